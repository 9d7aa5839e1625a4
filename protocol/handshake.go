// File: protocol/handshake.go
// Package protocol implements the server side of the WebSocket opening
// handshake.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Negotiate works on the raw bytes accumulated from a connection. It parses
// the HTTP/1.1 Upgrade request once the header terminator is present, applies
// the configured host/origin/protocol/extension policy, and yields either an
// Accept carrying the 101 response or a Rejection carrying the error response.

package protocol

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"strings"
)

// Constants used for handshake processing.
const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderHost               = "Host"
	HeaderOrigin             = "Origin"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketProto  = "Sec-WebSocket-Protocol"
	HeaderSecWebSocketExt    = "Sec-WebSocket-Extensions"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	RequiredWebSocketVersion = "13"
	MaxHandshakeHeadersSize  = 8192
)

var (
	// ErrIncompleteRequest means the header terminator has not arrived yet.
	ErrIncompleteRequest = errors.New("handshake request incomplete")
	// ErrHandshakeTooLarge means the header block exceeded MaxHandshakeHeadersSize.
	ErrHandshakeTooLarge = errors.New("handshake headers too large")
)

// Policy holds the server-wide handshake acceptance rules. Empty allow-lists
// allow everything.
type Policy struct {
	AllowedHosts        []string
	OriginRequired      bool
	AllowedOrigins      []string
	ProtocolRequired    bool
	SupportedProtocols  []string
	ExtensionsRequired  bool
	SupportedExtensions []string
}

// Request is the parsed request line and headers of an Upgrade request.
type Request struct {
	Method string
	URI    string
	Proto  string
	Header http.Header
}

// Accept is a successful negotiation.
type Accept struct {
	Request
	Key       string
	AcceptKey string
	Protocol  string // negotiated sub-protocol, empty when none
	Extension string // negotiated extension, empty when none
	// Consumed is the number of input bytes that made up the request. Any
	// bytes past it already belong to the frame stream.
	Consumed int
}

// Response renders the 101 Switching Protocols response.
func (a *Accept) Response() []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "%s: %s\r\n", HeaderSecWebSocketAccept, a.AcceptKey)
	if a.Protocol != "" {
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderSecWebSocketProto, a.Protocol)
	}
	if a.Extension != "" {
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderSecWebSocketExt, a.Extension)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// Rejection is a failed negotiation. The connection is answered with the
// HTTP status and closed.
type Rejection struct {
	Status int
	Reason string
	// Request is set when the request line and headers parsed successfully.
	Request *Request
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("handshake rejected: %d %s: %s", r.Status, http.StatusText(r.Status), r.Reason)
}

// Response renders the HTTP error response.
func (r *Rejection) Response() []byte {
	text := http.StatusText(r.Status)
	body := text + "\n"
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Status, text)
	switch r.Status {
	case http.StatusUpgradeRequired:
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderSecWebSocketVer, RequiredWebSocketVersion)
		b.WriteString("Upgrade: websocket\r\n")
	case http.StatusMethodNotAllowed:
		b.WriteString("Allow: GET\r\n")
	}
	b.WriteString("Connection: close\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(body))
	b.WriteString(body)
	return b.Bytes()
}

func reject(status int, reason string, req *Request) *Rejection {
	return &Rejection{Status: status, Reason: reason, Request: req}
}

// Negotiator applies a Policy to incoming Upgrade requests.
type Negotiator struct {
	Policy        Policy
	MaxHeaderSize int
}

// NewNegotiator returns a Negotiator enforcing p.
func NewNegotiator(p Policy) *Negotiator {
	return &Negotiator{Policy: p, MaxHeaderSize: MaxHandshakeHeadersSize}
}

// Negotiate inspects the bytes received so far.
//
// It returns ErrIncompleteRequest while the blank line ending the headers has
// not arrived, a *Rejection when the request must be refused, and an *Accept
// otherwise. Validation stops at the first failing check.
func (n *Negotiator) Negotiate(buf []byte) (*Accept, error) {
	end := headerEnd(buf)
	limit := n.MaxHeaderSize
	if limit <= 0 {
		limit = MaxHandshakeHeadersSize
	}
	if end < 0 {
		if len(buf) > limit {
			return nil, reject(http.StatusBadRequest, ErrHandshakeTooLarge.Error(), nil)
		}
		return nil, ErrIncompleteRequest
	}
	if end > limit {
		return nil, reject(http.StatusBadRequest, ErrHandshakeTooLarge.Error(), nil)
	}

	req, rej := parseRequest(buf[:end])
	if rej != nil {
		return nil, rej
	}
	if req.Method != http.MethodGet {
		return nil, reject(http.StatusMethodNotAllowed, "method "+req.Method+" not allowed", req)
	}

	p := &n.Policy
	h := req.Header

	if len(p.AllowedHosts) > 0 && !hostAllowed(h.Get(HeaderHost), p.AllowedHosts) {
		return nil, reject(http.StatusBadRequest, "missing or invalid Host header", req)
	}
	if !headerContainsToken(h, HeaderUpgrade, "websocket") {
		return nil, reject(http.StatusBadRequest, "missing Upgrade: websocket header", req)
	}
	if !headerContainsSubstring(h, HeaderConnection, "upgrade") {
		return nil, reject(http.StatusBadRequest, "missing Connection: Upgrade header", req)
	}
	key := strings.TrimSpace(h.Get(HeaderSecWebSocketKey))
	if key == "" {
		return nil, reject(http.StatusBadRequest, "missing Sec-WebSocket-Key header", req)
	}
	if strings.TrimSpace(h.Get(HeaderSecWebSocketVer)) != RequiredWebSocketVersion {
		return nil, reject(http.StatusUpgradeRequired, "unsupported WebSocket version; only '13' is supported", req)
	}
	if p.OriginRequired {
		origin := strings.TrimSpace(h.Get(HeaderOrigin))
		if origin == "" {
			return nil, reject(http.StatusForbidden, "missing Origin header", req)
		}
		if len(p.AllowedOrigins) > 0 && !containsFold(p.AllowedOrigins, origin) {
			return nil, reject(http.StatusForbidden, "origin "+origin+" not allowed", req)
		}
	}

	acc := &Accept{
		Request:   *req,
		Key:       key,
		AcceptKey: ComputeAcceptKey(key),
		Consumed:  end,
	}

	protocols := headerTokens(h, HeaderSecWebSocketProto)
	acc.Protocol = selectToken(protocols, p.SupportedProtocols, p.ProtocolRequired, false)
	if p.ProtocolRequired && acc.Protocol == "" {
		return nil, reject(http.StatusBadRequest, "no supported sub-protocol requested", req)
	}

	extensions := extensionNames(h)
	acc.Extension = selectToken(extensions, p.SupportedExtensions, p.ExtensionsRequired, true)
	if p.ExtensionsRequired && acc.Extension == "" {
		return nil, reject(http.StatusBadRequest, "no supported extension requested", req)
	}
	return acc, nil
}

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
// This implements the algorithm specified in RFC6455 Section 1.3.
func ComputeAcceptKey(clientKey string) string {
	hash := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// headerEnd returns the offset just past the first blank line, accepting both
// CRLF and bare LF line endings, or -1 when none is present.
func headerEnd(buf []byte) int {
	end := -1
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
		end = i + 4
	}
	if i := bytes.Index(buf, []byte("\n\n")); i >= 0 && (end < 0 || i+2 < end) {
		end = i + 2
	}
	return end
}

func parseRequest(block []byte) (*Request, *Rejection) {
	normalized := bytes.ReplaceAll(block, []byte("\r\n"), []byte("\n"))
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(normalized)))

	line, err := tp.ReadLine()
	if err != nil {
		return nil, reject(http.StatusBadRequest, "malformed request line", nil)
	}
	parts := strings.Fields(line)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, reject(http.StatusBadRequest, "malformed request line", nil)
	}
	mime, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, reject(http.StatusBadRequest, "malformed headers: "+err.Error(), nil)
	}
	return &Request{
		Method: parts[0],
		URI:    parts[1],
		Proto:  parts[2],
		Header: http.Header(mime),
	}, nil
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	name := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		name = h
	}
	for _, a := range allowed {
		if strings.EqualFold(a, host) || strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// headerContainsToken checks if headerName contains the given token (case-insensitive).
func headerContainsToken(h http.Header, headerName, token string) bool {
	for _, part := range headerTokens(h, headerName) {
		if strings.EqualFold(part, token) {
			return true
		}
	}
	return false
}

func headerContainsSubstring(h http.Header, headerName, sub string) bool {
	for _, v := range h.Values(headerName) {
		if strings.Contains(strings.ToLower(v), sub) {
			return true
		}
	}
	return false
}

// headerTokens splits every value of headerName on commas.
func headerTokens(h http.Header, headerName string) []string {
	var out []string
	for _, v := range h.Values(headerName) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// extensionNames returns the requested extension names without parameters.
func extensionNames(h http.Header) []string {
	tokens := headerTokens(h, HeaderSecWebSocketExt)
	for i, t := range tokens {
		if j := strings.IndexByte(t, ';'); j >= 0 {
			tokens[i] = strings.TrimSpace(t[:j])
		}
	}
	return tokens
}

// selectToken picks the first requested token the server supports. With an
// empty supported list a required token is satisfied by whatever the client
// asked for first.
func selectToken(requested, supported []string, required, fold bool) string {
	if len(requested) == 0 {
		return ""
	}
	if len(supported) == 0 {
		if required {
			return requested[0]
		}
		return ""
	}
	for _, r := range requested {
		for _, s := range supported {
			if r == s || (fold && strings.EqualFold(r, s)) {
				return s
			}
		}
	}
	return ""
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
