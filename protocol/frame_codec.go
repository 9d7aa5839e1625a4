// File: protocol/frame_codec.go
// Package protocol implements the incremental frame decoder and fragment
// reassembly.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Decoder is fed whatever a single socket read returned. Complete frames are
// handed back; a trailing partial frame is retained until the next Feed.

package protocol

import (
	"errors"
	"math"
)

// Message-level protocol violations.
var (
	ErrUnexpectedContinuation = errors.New("continuation frame without a message in progress")
	ErrFragmentInProgress     = errors.New("new data frame while a fragmented message is in progress")
	ErrMessageTooLarge        = errors.New("message exceeds maximum allowed size")
	ErrInvalidUTF8            = errors.New("text message is not valid UTF-8")
)

// Decoder turns a byte stream into frames. The zero value accepts masked and
// unmasked frames of any size.
type Decoder struct {
	// MaxPayload bounds a single frame payload. Zero means no limit.
	MaxPayload int64
	// RequireMask rejects unmasked frames with ErrUnmaskedFrame.
	RequireMask bool

	buf []byte
}

// Feed appends p to the retained bytes and extracts every complete frame.
//
// Frames decoded before a protocol error are returned together with the
// error; the connection is expected to be closed after an error, so the
// decoder state is unspecified from then on.
func (d *Decoder) Feed(p []byte) ([]Frame, error) {
	d.buf = append(d.buf, p...)

	var frames []Frame
	off := 0
	for {
		h, n, err := ParseHeader(d.buf[off:])
		if err != nil {
			return frames, err
		}
		if n == 0 {
			break
		}
		if d.RequireMask && !h.Masked {
			return frames, ErrUnmaskedFrame
		}
		if d.MaxPayload > 0 && h.Length > d.MaxPayload {
			return frames, ErrFrameTooLarge
		}
		if h.Length > int64(math.MaxInt-n) {
			return frames, ErrFrameTooLarge
		}
		total := n + int(h.Length)
		if len(d.buf)-off < total {
			break
		}

		payload := make([]byte, h.Length)
		copy(payload, d.buf[off+n:off+total])
		if h.Masked {
			MaskBytes(payload, h.Mask, 0)
		}
		frames = append(frames, Frame{Header: h, Payload: payload})
		off += total
	}

	rest := copy(d.buf, d.buf[off:])
	d.buf = d.buf[:rest]
	if rest == 0 && cap(d.buf) > 64*1024 {
		d.buf = nil
	}
	return frames, nil
}

// Busy reports whether a partial frame is waiting for more bytes.
func (d *Decoder) Busy() bool {
	return len(d.buf) > 0
}

// Buffered returns the number of retained, undecoded bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any retained bytes.
func (d *Decoder) Reset() {
	d.buf = nil
}

// Message is a complete application message, reassembled from one or more
// data frames.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// Assembler reassembles fragmented data messages. At most one message is in
// progress at a time.
type Assembler struct {
	// MaxSize bounds the reassembled message. Zero means no limit.
	MaxSize int64

	opcode     Opcode
	buf        []byte
	inProgress bool
}

// Push consumes one data frame. It returns the completed message and true
// once the final fragment arrives. Control frames are passed through as
// single-frame messages and never disturb a message in progress.
func (a *Assembler) Push(f Frame) (Message, bool, error) {
	if f.Opcode.IsControl() {
		return Message{Opcode: f.Opcode, Payload: f.Payload}, true, nil
	}

	switch f.Opcode {
	case OpcodeContinuation:
		if !a.inProgress {
			return Message{}, false, ErrUnexpectedContinuation
		}
		if a.MaxSize > 0 && int64(len(a.buf))+int64(len(f.Payload)) > a.MaxSize {
			a.Reset()
			return Message{}, false, ErrMessageTooLarge
		}
		a.buf = append(a.buf, f.Payload...)
		if !f.Fin {
			return Message{}, false, nil
		}
		msg := Message{Opcode: a.opcode, Payload: a.buf}
		a.opcode, a.buf, a.inProgress = 0, nil, false
		return msg, true, nil

	case OpcodeText, OpcodeBinary:
		if a.inProgress {
			return Message{}, false, ErrFragmentInProgress
		}
		if a.MaxSize > 0 && int64(len(f.Payload)) > a.MaxSize {
			return Message{}, false, ErrMessageTooLarge
		}
		if f.Fin {
			return Message{Opcode: f.Opcode, Payload: f.Payload}, true, nil
		}
		a.opcode = f.Opcode
		a.buf = append(a.buf[:0], f.Payload...)
		a.inProgress = true
		return Message{}, false, nil
	}
	return Message{}, false, ErrInvalidOpcode
}

// InProgress reports whether a fragmented message is being collected.
func (a *Assembler) InProgress() bool {
	return a.inProgress
}

// Reset discards a partially collected message.
func (a *Assembler) Reset() {
	a.opcode, a.buf, a.inProgress = 0, nil, false
}
