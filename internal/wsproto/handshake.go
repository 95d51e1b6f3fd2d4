package wsproto

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// wsGUID is the fixed magic string from RFC 6455 section 4.2.2; the accept
// key is the SHA-1 of the client key concatenated with it.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AuthHeader is the custom header the client uses to present the session
// token it read from the lock file.
const AuthHeader = "x-claude-code-ide-authorization"

// Token length bounds for the auth header value. Anything outside the bounds
// is rejected before comparison, which caps the work a hostile header can
// cause.
const (
	minTokenLength = 10
	maxTokenLength = 500
)

// ErrUnauthorized marks handshake failures caused by a missing or wrong auth
// token. The connection layer answers these with 401 instead of 400, so a
// client can tell a stale token apart from a malformed request.
var ErrUnauthorized = errors.New("wsproto: unauthorized")

// Handshake holds the parsed fields of a validated upgrade request.
type Handshake struct {
	// Path is the request target from the request line.
	Path string

	// Key is the client's Sec-WebSocket-Key, needed to compute the accept key.
	Key string

	// Headers holds every header from the request, keys lowercased.
	Headers map[string]string
}

// ExtractRequest splits one complete HTTP request off the front of buf.
// An upgrade request has no body, so the request ends at the first blank
// line. Returns complete=false when the double-CRLF has not arrived yet.
func ExtractRequest(buf []byte) (complete bool, request []byte, remaining []byte) {
	idx := strings.Index(string(buf), "\r\n\r\n")
	if idx < 0 {
		return false, nil, buf
	}
	end := idx + 4
	return true, buf[:end], buf[end:]
}

// IsUpgradeRequest reports whether raw looks like an HTTP request this server
// could upgrade: a GET with a non-empty path speaking HTTP/1.1.
func IsUpgradeRequest(raw []byte) bool {
	line, _, ok := strings.Cut(string(raw), "\r\n")
	if !ok {
		return false
	}
	parts := strings.Split(line, " ")
	return len(parts) == 3 && parts[0] == "GET" && parts[1] != "" && parts[2] == "HTTP/1.1"
}

// Validate checks a raw upgrade request against RFC 6455 and, when
// expectedToken is non-empty, against the session auth token.
//
// Failures return a nil Handshake and an error; auth failures wrap
// ErrUnauthorized so the caller can pick the right response status. The
// token comparison is constant-time.
func Validate(raw []byte, expectedToken string) (*Handshake, error) {
	if !IsUpgradeRequest(raw) {
		return nil, errors.New("wsproto: not an HTTP/1.1 GET request")
	}

	lines := strings.Split(string(raw), "\r\n")
	requestLine := strings.Split(lines[0], " ")

	hs := &Handshake{
		Path:    requestLine[1],
		Headers: make(map[string]string),
	}
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		hs.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	if !strings.EqualFold(hs.Headers["upgrade"], "websocket") {
		return nil, errors.New("wsproto: missing Upgrade: websocket header")
	}
	if !strings.Contains(strings.ToLower(hs.Headers["connection"]), "upgrade") {
		return nil, errors.New("wsproto: Connection header must include upgrade")
	}

	hs.Key = hs.Headers["sec-websocket-key"]
	// A valid key is 16 random bytes base64-encoded, which is always exactly
	// 24 characters.
	if len(hs.Key) != 24 {
		return nil, fmt.Errorf("wsproto: invalid Sec-WebSocket-Key length %d", len(hs.Key))
	}

	if v := hs.Headers["sec-websocket-version"]; v != "13" {
		return nil, fmt.Errorf("wsproto: unsupported Sec-WebSocket-Version %q", v)
	}

	if expectedToken != "" {
		token, ok := hs.Headers[AuthHeader]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s header", ErrUnauthorized, AuthHeader)
		}
		if len(token) < minTokenLength || len(token) > maxTokenLength {
			return nil, fmt.Errorf("%w: token length out of bounds", ErrUnauthorized)
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			return nil, fmt.Errorf("%w: token mismatch", ErrUnauthorized)
		}
	}

	return hs, nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key:
// base64(SHA1(key + magic GUID)).
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// AcceptResponse builds the 101 Switching Protocols response completing the
// handshake for the given client key.
func AcceptResponse(key string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n")
}

// ErrorResponse builds a plain HTTP error response for a failed handshake.
// The connection is closed right after this is written, so Connection: close
// is always set.
func ErrorResponse(status int, reason string) []byte {
	statusText := "Bad Request"
	if status == 401 {
		statusText = "Unauthorized"
	}
	body := reason + "\n"
	return []byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n"+
		"Content-Type: text/plain\r\n"+
		"Content-Length: %d\r\n"+
		"Connection: close\r\n\r\n%s", status, statusText, len(body), body))
}
