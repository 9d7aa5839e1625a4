// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame header parsing, encoding and masking logic.
//
// Parsing works on byte slices instead of io.Reader so the reactor can hand
// over whatever a single non-blocking read produced.

package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// Frame-level protocol violations.
var (
	ErrReservedBits      = errors.New("reserved bits set without negotiated extension")
	ErrInvalidOpcode     = errors.New("invalid opcode")
	ErrControlTooLong    = errors.New("control frame payload exceeds 125 bytes")
	ErrFragmentedControl = errors.New("control frame must not be fragmented")
	ErrFrameTooLarge     = errors.New("frame payload exceeds maximum allowed size")
	ErrUnmaskedFrame     = errors.New("client frame is not masked")
)

// Header is a decoded frame header. It is transient and never retained after
// the frame has been dispatched.
type Header struct {
	Fin    bool
	Rsv1   bool
	Rsv2   bool
	Rsv3   bool
	Opcode Opcode
	Masked bool
	Length int64
	Mask   [4]byte
}

// Size returns the number of bytes the header occupies on the wire.
func (h Header) Size() int {
	n := 2
	switch {
	case h.Length > math.MaxUint16:
		n += 8
	case h.Length > MaxControlPayloadLen:
		n += 2
	}
	if h.Masked {
		n += 4
	}
	return n
}

// Frame is a header plus its unmasked payload.
type Frame struct {
	Header
	Payload []byte
}

// ParseHeader decodes the frame header at the start of raw.
//
// It returns the header and the number of header bytes consumed. When raw does
// not yet hold a complete header it returns (Header{}, 0, nil) and the caller
// must wait for more bytes.
func ParseHeader(raw []byte) (Header, int, error) {
	var h Header
	if len(raw) < 2 {
		return h, 0, nil
	}

	b0, b1 := raw[0], raw[1]
	h.Fin = b0&FinBit != 0
	h.Rsv1 = b0&Rsv1Bit != 0
	h.Rsv2 = b0&Rsv2Bit != 0
	h.Rsv3 = b0&Rsv3Bit != 0
	h.Opcode = Opcode(b0 & OpcodeBits)
	h.Masked = b1&MaskBit != 0
	length := int64(b1 & LenBits)

	if h.Rsv1 || h.Rsv2 || h.Rsv3 {
		return h, 0, ErrReservedBits
	}
	if !h.Opcode.Valid() {
		return h, 0, ErrInvalidOpcode
	}
	if h.Opcode.IsControl() {
		if !h.Fin {
			return h, 0, ErrFragmentedControl
		}
		if length > MaxControlPayloadLen {
			return h, 0, ErrControlTooLong
		}
	}

	offset := 2
	switch length {
	case len16Marker:
		if len(raw) < offset+2 {
			return Header{}, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case len64Marker:
		if len(raw) < offset+8 {
			return Header{}, 0, nil
		}
		v := binary.BigEndian.Uint64(raw[offset:])
		if v > math.MaxInt64 {
			return h, 0, ErrFrameTooLarge
		}
		length = int64(v)
		offset += 8
	}
	h.Length = length

	if h.Masked {
		if len(raw) < offset+4 {
			return Header{}, 0, nil
		}
		copy(h.Mask[:], raw[offset:offset+4])
		offset += 4
	}
	return h, offset, nil
}

// AppendFrame appends an unmasked frame to dst and returns the extended
// slice. Server-to-client frames are never masked.
func AppendFrame(dst []byte, opcode Opcode, payload []byte, fin bool) []byte {
	dst = appendHeader(dst, opcode, len(payload), fin, 0)
	return append(dst, payload...)
}

// AppendMaskedFrame appends a frame masked with key, as a client would send
// it. payload is left untouched.
func AppendMaskedFrame(dst []byte, opcode Opcode, payload []byte, fin bool, key [4]byte) []byte {
	dst = appendHeader(dst, opcode, len(payload), fin, MaskBit)
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	MaskBytes(dst[start:], key, 0)
	return dst
}

// EncodeFrame serializes one server frame. When messageContinues is true the
// FIN bit is cleared because more frames of the same message follow.
func EncodeFrame(payload []byte, opcode Opcode, messageContinues bool) []byte {
	buf := make([]byte, 0, MaxFrameHeaderLen+len(payload))
	return AppendFrame(buf, opcode, payload, !messageContinues)
}

func appendHeader(dst []byte, opcode Opcode, plen int, fin bool, maskBit byte) []byte {
	b0 := byte(opcode) & OpcodeBits
	if fin {
		b0 |= FinBit
	}
	switch {
	case plen <= MaxControlPayloadLen:
		return append(dst, b0, byte(plen)|maskBit)
	case plen <= math.MaxUint16:
		dst = append(dst, b0, len16Marker|maskBit)
		return binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, len64Marker|maskBit)
		return binary.BigEndian.AppendUint64(dst, uint64(plen))
	}
}

// MaskBytes XORs buf in place with key, starting at key position pos, and
// returns the key position following the last byte. Masking is its own
// inverse, so the same call unmasks.
func MaskBytes(buf []byte, key [4]byte, pos int) int {
	for i := range buf {
		buf[i] ^= key[(pos+i)&3]
	}
	return (pos + len(buf)) & 3
}
