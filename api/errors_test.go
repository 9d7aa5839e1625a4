package api_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/wsreactor/api"
)

func TestWrapErrorUnwraps(t *testing.T) {
	err := api.WrapError(api.ErrCodeSetup, "server setup", api.ErrNotSupported).WithContext("addr", ":6001")
	wrapped := fmt.Errorf("run: %w", err)

	assert.ErrorIs(t, wrapped, api.ErrNotSupported)
	assert.Equal(t, api.ErrCodeSetup, api.CodeOf(wrapped))
	assert.Contains(t, err.Error(), "server setup: operation not supported")
	assert.Contains(t, err.Error(), "addr")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, api.ErrCodeOK, api.CodeOf(nil))
	assert.Equal(t, api.ErrCodeInternal, api.CodeOf(errors.New("plain")))
	assert.Equal(t, api.ErrCodeProtocol, api.CodeOf(api.NewError(api.ErrCodeProtocol, "bad frame")))
}

func TestErrorCodeString(t *testing.T) {
	assert.Equal(t, "invalid_argument", api.ErrCodeInvalidArgument.String())
	assert.Equal(t, "callback", api.ErrCodeCallback.String())
	assert.Equal(t, "internal", api.ErrorCode(99).String())
}

func TestNewErrorWithoutContext(t *testing.T) {
	e := &api.Error{Code: api.ErrCodeNetwork, Message: "reset"}
	assert.Equal(t, "reset", e.Error())
	e.WithContext("fd", 7)
	assert.Equal(t, 7, e.Context["fd"])
}
