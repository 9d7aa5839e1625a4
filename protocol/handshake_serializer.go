// File: protocol/handshake_serializer.go
// Package protocol
// Helpers serializing the client side of the opening handshake. The server
// never dials out; these exist for tools and tests that play the client.
package protocol

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// NewClientKey returns a random base64-encoded 16-byte Sec-WebSocket-Key.
func NewClientKey() (string, error) {
	var raw [16]byte
	if _, err := io.ReadFull(rand.Reader, raw[:]); err != nil {
		return "", fmt.Errorf("handshake key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

// BuildRequest renders a version 13 Upgrade request for uri. Headers in extra
// are appended in sorted order after the mandatory ones.
func BuildRequest(uri, host, key string, extra http.Header) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", uri)
	fmt.Fprintf(&b, "%s: %s\r\n", HeaderHost, host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "%s: %s\r\n", HeaderSecWebSocketKey, key)
	fmt.Fprintf(&b, "%s: %s\r\n", HeaderSecWebSocketVer, RequiredWebSocketVersion)

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range extra[k] {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// ReadResponse reads the server's handshake response from r and checks the
// status and accept key. It returns the parsed response so callers can
// inspect negotiated headers.
func ReadResponse(r *bufio.Reader, key string) (*http.Response, error) {
	resp, err := http.ReadResponse(r, nil)
	if err != nil {
		return nil, fmt.Errorf("handshake read response: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return resp, fmt.Errorf("handshake failed: status %d", resp.StatusCode)
	}
	if got := resp.Header.Get(HeaderSecWebSocketAccept); got != ComputeAcceptKey(key) {
		return resp, fmt.Errorf("handshake failed: accept key mismatch %q", got)
	}
	return resp, nil
}
