// Package wsproto implements the subset of RFC 6455 this host speaks:
// the HTTP upgrade handshake, frame encoding/decoding, masking, and control
// frames. Fragmented messages and protocol extensions (compression) are
// deliberately out of the subset; the decoder surfaces them as protocol
// errors rather than buffering continuation state.
//
// Everything in this package is pure: decoding consumes a byte slice and
// reports how many bytes it used, so the connection layer owns all I/O and
// buffering.
package wsproto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Opcode is the frame type tag from the RFC 6455 frame header.
type Opcode byte

// Frame opcodes per RFC 6455 section 5.2.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode is a control frame (close/ping/pong).
func (op Opcode) IsControl() bool {
	return op == OpClose || op == OpPing || op == OpPong
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", byte(op))
	}
}

// Close codes used by the connection layer.
const (
	CloseNormal          = 1000 // Clean close
	CloseGoingAway       = 1001 // Server shutting down
	CloseProtocolError   = 1002 // Frame or handshake violation
	CloseUnsupportedData = 1003 // Fragmented message (unsupported)
	CloseAbnormal        = 1006 // Liveness timeout, never sent on the wire
	ClosePolicyViolation = 1008 // Inbound message rate exceeded
)

// MaxPayloadSize is the hard ceiling on a single frame's declared payload
// length. A peer declaring more than this is treated as a protocol error
// before any allocation happens, so a hostile 64-bit length field cannot
// force an unbounded allocation.
const MaxPayloadSize = 20 << 20 // 20 MiB

// maxControlPayload is the RFC 6455 limit on control frame payloads.
const maxControlPayload = 125

// Frame is one decoded WebSocket protocol unit. It is constructed by Decode,
// consumed immediately by the connection layer, and never retained.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

// Frame decoding errors. All of them are fatal to the connection that
// produced the bytes; the caller maps them to close code 1002.
var (
	ErrReservedBits    = errors.New("wsproto: reserved bits must be zero")
	ErrUnknownOpcode   = errors.New("wsproto: unknown opcode")
	ErrControlTooLong  = errors.New("wsproto: control frame payload exceeds 125 bytes")
	ErrControlNotFinal = errors.New("wsproto: control frame must not be fragmented")
	ErrPayloadTooLarge = errors.New("wsproto: declared payload length exceeds limit")
	ErrInvalidUTF8     = errors.New("wsproto: text payload is not valid UTF-8")
	ErrInvalidClose    = errors.New("wsproto: close payload must be empty or carry a 2-byte code")
)

// Decode parses one frame from the front of buf.
//
// When buf holds only part of a frame, Decode returns (nil, 0, nil): this is
// not an error, the caller should wait for more bytes and retry with the
// grown buffer. When the frame violates the protocol subset (reserved bits,
// unknown opcode, control frame constraints, oversized declared length,
// invalid UTF-8 in a text or close-reason payload), Decode returns a non-nil
// error and the caller must treat the connection as broken.
//
// Masked payloads are unmasked in place before the frame is returned; the
// payload slice aliases buf, so the caller must not reuse those bytes.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}

	b0, b1 := buf[0], buf[1]

	// No extensions are negotiated, so any reserved bit is a violation.
	if b0&0x70 != 0 {
		return nil, 0, ErrReservedBits
	}

	opcode := Opcode(b0 & 0x0F)
	switch opcode {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
	default:
		return nil, 0, fmt.Errorf("%w: 0x%x", ErrUnknownOpcode, byte(opcode))
	}

	fin := b0&0x80 != 0
	masked := b1&0x80 != 0
	length := uint64(b1 & 0x7F)

	if opcode.IsControl() {
		if !fin {
			return nil, 0, ErrControlNotFinal
		}
		// Control frames cannot use extended length encoding, so the 7-bit
		// field is authoritative here.
		if length > maxControlPayload {
			return nil, 0, ErrControlTooLong
		}
	}

	offset := 2
	switch length {
	case 126:
		if len(buf) < offset+2 {
			return nil, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset : offset+2]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return nil, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[offset : offset+8])
		offset += 8
	}

	// Reject before sizing any buffer off the declared length.
	if length > MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}

	frame := &Frame{Fin: fin, Opcode: opcode, Masked: masked}

	if masked {
		if len(buf) < offset+4 {
			return nil, 0, nil
		}
		copy(frame.Mask[:], buf[offset:offset+4])
		offset += 4
	}

	end := offset + int(length)
	if len(buf) < end {
		return nil, 0, nil
	}

	frame.Payload = buf[offset:end]
	if masked {
		ApplyMask(frame.Payload, frame.Mask)
	}

	if err := validatePayload(frame); err != nil {
		return nil, 0, err
	}

	return frame, end, nil
}

// validatePayload enforces the UTF-8 and close-payload rules that depend on
// the unmasked payload bytes.
func validatePayload(f *Frame) error {
	switch f.Opcode {
	case OpText:
		// Fragmented text is rejected upstream, so the whole message is here
		// and can be validated in one pass.
		if !utf8.Valid(f.Payload) {
			return ErrInvalidUTF8
		}
	case OpClose:
		if len(f.Payload) == 1 {
			return ErrInvalidClose
		}
		if len(f.Payload) > 2 && !utf8.Valid(f.Payload[2:]) {
			return ErrInvalidUTF8
		}
	}
	return nil
}

// Encode builds the wire bytes for a single frame.
//
// Server-originated frames must be unmasked, client-originated frames must be
// masked; when masked is true a fresh random mask is generated and the
// payload copy in the output is masked with it. The input payload is never
// modified.
func Encode(opcode Opcode, payload []byte, fin, masked bool) []byte {
	header := make([]byte, 0, 14)

	b0 := byte(opcode)
	if fin {
		b0 |= 0x80
	}
	header = append(header, b0)

	var maskBit byte
	if masked {
		maskBit = 0x80
	}

	switch n := len(payload); {
	case n <= 125:
		header = append(header, maskBit|byte(n))
	case n <= 0xFFFF:
		header = append(header, maskBit|126)
		header = binary.BigEndian.AppendUint16(header, uint16(n))
	default:
		header = append(header, maskBit|127)
		header = binary.BigEndian.AppendUint64(header, uint64(n))
	}

	frame := make([]byte, 0, len(header)+4+len(payload))
	frame = append(frame, header...)

	if masked {
		var mask [4]byte
		rand.Read(mask[:])
		frame = append(frame, mask[:]...)
		start := len(frame)
		frame = append(frame, payload...)
		ApplyMask(frame[start:], mask)
		return frame
	}

	return append(frame, payload...)
}

// ApplyMask XORs data in place with the repeating 4-byte mask. Masking is an
// involution: applying the same mask twice restores the original bytes.
func ApplyMask(data []byte, mask [4]byte) {
	for i := range data {
		data[i] ^= mask[i&3]
	}
}

// EncodeText builds an unmasked final text frame, the shape every
// server-originated JSON-RPC message uses.
func EncodeText(payload []byte) []byte {
	return Encode(OpText, payload, true, false)
}

// EncodeClose builds an unmasked close frame carrying the given status code
// and optional UTF-8 reason.
func EncodeClose(code uint16, reason string) []byte {
	payload := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	payload = append(payload, reason...)
	return Encode(OpClose, payload, true, false)
}

// EncodePing builds an unmasked ping frame.
func EncodePing(payload []byte) []byte {
	return Encode(OpPing, payload, true, false)
}

// EncodePong builds an unmasked pong frame echoing the ping payload.
func EncodePong(payload []byte) []byte {
	return Encode(OpPong, payload, true, false)
}

// ParseClose extracts the status code and reason from a close frame payload.
// An empty payload means the peer sent no code; 1005 ("no status received")
// is reported in that case, mirroring how the RFC defines the absence.
func ParseClose(payload []byte) (code uint16, reason string) {
	if len(payload) < 2 {
		return 1005, ""
	}
	return binary.BigEndian.Uint16(payload[:2]), string(payload[2:])
}
