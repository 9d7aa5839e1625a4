// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Close frame payload helpers.

package protocol

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

var ErrInvalidClosePayload = errors.New("invalid close frame payload")

// ClosePayload builds a close frame body: a big-endian status code followed
// by a UTF-8 reason, truncated to fit a control frame.
func ClosePayload(code uint16, reason string) []byte {
	if len(reason) > MaxControlPayloadLen-2 {
		reason = reason[:MaxControlPayloadLen-2]
		for !utf8.ValidString(reason) {
			reason = reason[:len(reason)-1]
		}
	}
	buf := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(buf, code)
	return append(buf, reason...)
}

// ParseClosePayload extracts the status code and reason from a close frame
// body. An empty body yields CloseNoStatusRcvd.
func ParseClosePayload(p []byte) (uint16, string, error) {
	switch {
	case len(p) == 0:
		return CloseNoStatusRcvd, "", nil
	case len(p) == 1:
		return 0, "", ErrInvalidClosePayload
	}
	code := binary.BigEndian.Uint16(p)
	reason := p[2:]
	if !utf8.Valid(reason) {
		return code, "", ErrInvalidClosePayload
	}
	return code, string(reason), nil
}

// CloseCodeFor maps a decode error to the status code sent back to the peer.
func CloseCodeFor(err error) uint16 {
	switch {
	case errors.Is(err, ErrFrameTooLarge), errors.Is(err, ErrMessageTooLarge):
		return CloseMessageTooBig
	case errors.Is(err, ErrInvalidUTF8):
		return CloseInvalidPayloadData
	default:
		return CloseProtocolError
	}
}
