package protocol_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/wsreactor/protocol"
)

var testMask = [4]byte{0x37, 0xfa, 0x21, 0x3d}

func payloadOf(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

func TestEncodeDecodeFrame(t *testing.T) {
	payload := []byte("hello")
	data := protocol.EncodeFrame(payload, protocol.OpcodeText, false)
	require.Equal(t, []byte{0x81, 0x05}, data[:2])

	var d protocol.Decoder
	frames, err := d.Feed(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Fin)
	assert.False(t, frames[0].Masked)
	assert.Equal(t, protocol.OpcodeText, frames[0].Opcode)
	assert.Equal(t, payload, frames[0].Payload)
}

func TestRoundTripAllLengthTiers(t *testing.T) {
	cases := []struct {
		name      string
		size      int
		headerLen int
	}{
		{"empty", 0, 2},
		{"inline-max", 125, 2},
		{"ext16-min", 126, 4},
		{"ext16-max", 65535, 4},
		{"ext64-min", 65536, 10},
		{"ext64", 200000, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := payloadOf(tc.size)

			unmasked := protocol.AppendFrame(nil, protocol.OpcodeBinary, payload, true)
			assert.Len(t, unmasked, tc.headerLen+tc.size)

			masked := protocol.AppendMaskedFrame(nil, protocol.OpcodeBinary, payload, true, testMask)
			assert.Len(t, masked, tc.headerLen+4+tc.size)

			for _, wire := range [][]byte{unmasked, masked} {
				var d protocol.Decoder
				frames, err := d.Feed(wire)
				require.NoError(t, err)
				require.Len(t, frames, 1)
				assert.Equal(t, int64(tc.size), frames[0].Length)
				assert.True(t, bytes.Equal(payload, frames[0].Payload), "payload mismatch")
				assert.False(t, d.Busy())
			}
		})
	}
}

func TestAppendMaskedFrameLeavesPayloadIntact(t *testing.T) {
	payload := []byte("do not touch")
	orig := append([]byte(nil), payload...)
	_ = protocol.AppendMaskedFrame(nil, protocol.OpcodeText, payload, true, testMask)
	assert.Equal(t, orig, payload)
}

func TestDecoderPartialReads(t *testing.T) {
	payload := payloadOf(70000)
	wire := protocol.AppendMaskedFrame(nil, protocol.OpcodeBinary, payload, true, testMask)
	wire = protocol.AppendMaskedFrame(wire, protocol.OpcodeText, []byte("tail"), true, testMask)

	var d protocol.Decoder
	var got []protocol.Frame
	for i := 0; i < len(wire); i += 997 {
		end := i + 997
		if end > len(wire) {
			end = len(wire)
		}
		frames, err := d.Feed(wire[i:end])
		require.NoError(t, err)
		got = append(got, frames...)
		if end < len(wire) && len(got) < 2 {
			assert.True(t, d.Busy(), "decoder should retain partial frame at %d", end)
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, payload, got[0].Payload)
	assert.Equal(t, []byte("tail"), got[1].Payload)
	assert.Zero(t, d.Buffered())
}

func TestDecoderByteByByte(t *testing.T) {
	wire := protocol.AppendMaskedFrame(nil, protocol.OpcodeText, payloadOf(300), true, testMask)
	var d protocol.Decoder
	for i := 0; i < len(wire)-1; i++ {
		frames, err := d.Feed(wire[i : i+1])
		require.NoError(t, err)
		require.Empty(t, frames)
	}
	frames, err := d.Feed(wire[len(wire)-1:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, payloadOf(300), frames[0].Payload)
}

func TestDecoderRejectsReservedBits(t *testing.T) {
	for _, bit := range []byte{protocol.Rsv1Bit, protocol.Rsv2Bit, protocol.Rsv3Bit} {
		wire := protocol.AppendMaskedFrame(nil, protocol.OpcodeText, []byte("x"), true, testMask)
		wire[0] |= bit
		var d protocol.Decoder
		_, err := d.Feed(wire)
		assert.ErrorIs(t, err, protocol.ErrReservedBits)
	}
}

func TestDecoderControlFrameRules(t *testing.T) {
	var d protocol.Decoder
	_, err := d.Feed(protocol.AppendMaskedFrame(nil, protocol.OpcodePing, payloadOf(126), true, testMask))
	assert.ErrorIs(t, err, protocol.ErrControlTooLong)

	d.Reset()
	_, err = d.Feed(protocol.AppendMaskedFrame(nil, protocol.OpcodePing, []byte("a"), false, testMask))
	assert.ErrorIs(t, err, protocol.ErrFragmentedControl)

	d.Reset()
	_, err = d.Feed([]byte{0x83, 0x80, 0, 0, 0, 0})
	assert.ErrorIs(t, err, protocol.ErrInvalidOpcode)
}

func TestDecoderLimits(t *testing.T) {
	d := protocol.Decoder{MaxPayload: 10}
	_, err := d.Feed(protocol.AppendMaskedFrame(nil, protocol.OpcodeBinary, payloadOf(11), true, testMask))
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)

	d = protocol.Decoder{RequireMask: true}
	_, err = d.Feed(protocol.AppendFrame(nil, protocol.OpcodeBinary, []byte("x"), true))
	assert.ErrorIs(t, err, protocol.ErrUnmaskedFrame)
}

func TestFragmentReassembly(t *testing.T) {
	message := []byte("The quick brown fox jumps over the lazy dog, twice over.")
	for _, n := range []int{1, 2, 5} {
		var wire []byte
		chunk := (len(message) + n - 1) / n
		for i := 0; i < n; i++ {
			start, end := i*chunk, (i+1)*chunk
			if end > len(message) {
				end = len(message)
			}
			op := protocol.OpcodeContinuation
			if i == 0 {
				op = protocol.OpcodeText
			}
			wire = protocol.AppendMaskedFrame(wire, op, message[start:end], i == n-1, testMask)
		}

		var d protocol.Decoder
		var a protocol.Assembler
		frames, err := d.Feed(wire)
		require.NoError(t, err)
		require.Len(t, frames, n)

		var msgs []protocol.Message
		for _, f := range frames {
			msg, done, err := a.Push(f)
			require.NoError(t, err)
			if done {
				msgs = append(msgs, msg)
			}
		}
		require.Len(t, msgs, 1, "n=%d", n)
		assert.Equal(t, protocol.OpcodeText, msgs[0].Opcode)
		assert.Equal(t, message, msgs[0].Payload, "n=%d", n)
		assert.False(t, a.InProgress())
	}
}

func TestAssemblerInterleavedControl(t *testing.T) {
	var a protocol.Assembler
	_, done, err := a.Push(protocol.Frame{Header: protocol.Header{Opcode: protocol.OpcodeBinary}, Payload: []byte("ab")})
	require.NoError(t, err)
	require.False(t, done)

	msg, done, err := a.Push(protocol.Frame{Header: protocol.Header{Fin: true, Opcode: protocol.OpcodePing}, Payload: []byte("p")})
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, protocol.OpcodePing, msg.Opcode)
	assert.True(t, a.InProgress())

	msg, done, err = a.Push(protocol.Frame{Header: protocol.Header{Fin: true}, Payload: []byte("cd")})
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, protocol.OpcodeBinary, msg.Opcode)
	assert.Equal(t, []byte("abcd"), msg.Payload)
}

func TestAssemblerErrors(t *testing.T) {
	var a protocol.Assembler
	_, _, err := a.Push(protocol.Frame{Header: protocol.Header{Fin: true}})
	assert.ErrorIs(t, err, protocol.ErrUnexpectedContinuation)

	_, _, err = a.Push(protocol.Frame{Header: protocol.Header{Opcode: protocol.OpcodeText}})
	require.NoError(t, err)
	_, _, err = a.Push(protocol.Frame{Header: protocol.Header{Fin: true, Opcode: protocol.OpcodeText}})
	assert.ErrorIs(t, err, protocol.ErrFragmentInProgress)

	a = protocol.Assembler{MaxSize: 4}
	_, _, err = a.Push(protocol.Frame{Header: protocol.Header{Opcode: protocol.OpcodeText}, Payload: []byte("abc")})
	require.NoError(t, err)
	_, _, err = a.Push(protocol.Frame{Header: protocol.Header{Fin: true}, Payload: []byte("de")})
	assert.ErrorIs(t, err, protocol.ErrMessageTooLarge)
	assert.False(t, a.InProgress())
}

func TestEncodeFrameContinuationFlag(t *testing.T) {
	first := protocol.EncodeFrame([]byte("a"), protocol.OpcodeText, true)
	last := protocol.EncodeFrame([]byte("b"), protocol.OpcodeContinuation, false)
	assert.Equal(t, byte(0x01), first[0])
	assert.Equal(t, byte(0x80), last[0])
}

func TestHeaderSize(t *testing.T) {
	assert.Equal(t, 2, protocol.Header{Length: 125}.Size())
	assert.Equal(t, 4, protocol.Header{Length: 126}.Size())
	assert.Equal(t, 10, protocol.Header{Length: 65536}.Size())
	assert.Equal(t, 14, protocol.Header{Length: 65536, Masked: true}.Size())
}

func TestClosePayload(t *testing.T) {
	p := protocol.ClosePayload(protocol.CloseGoingAway, "bye")
	code, reason, err := protocol.ParseClosePayload(p)
	require.NoError(t, err)
	assert.Equal(t, uint16(protocol.CloseGoingAway), code)
	assert.Equal(t, "bye", reason)

	code, _, err = protocol.ParseClosePayload(nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(protocol.CloseNoStatusRcvd), code)

	_, _, err = protocol.ParseClosePayload([]byte{0x03})
	assert.ErrorIs(t, err, protocol.ErrInvalidClosePayload)

	long := protocol.ClosePayload(protocol.CloseNormalClosure, string(bytes.Repeat([]byte("é"), 100)))
	assert.LessOrEqual(t, len(long), protocol.MaxControlPayloadLen)
}

func TestCloseCodeFor(t *testing.T) {
	assert.Equal(t, uint16(protocol.CloseMessageTooBig), protocol.CloseCodeFor(protocol.ErrFrameTooLarge))
	assert.Equal(t, uint16(protocol.CloseInvalidPayloadData), protocol.CloseCodeFor(protocol.ErrInvalidUTF8))
	assert.Equal(t, uint16(protocol.CloseProtocolError), protocol.CloseCodeFor(protocol.ErrReservedBits))
}
