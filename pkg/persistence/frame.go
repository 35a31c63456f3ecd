package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the AOF binary framing.
const (
	// MagicByte marks the start of a valid frame.
	MagicByte = 0xA5

	// HeaderSize is the fixed size of the frame metadata:
	// 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32) = 10 bytes.
	HeaderSize = 10

	// OpCodeCommand frames carry exactly one RESP command.
	OpCodeCommand = 0x01
	// OpCodeBatch frames carry several RESP commands that must be applied
	// together. A batch frame is either replayed completely or not at all.
	OpCodeBatch = 0x02
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or is not an AOF.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates data corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the file ended in the middle of a frame.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrUnknownOpCode indicates a frame written by an incompatible version.
	ErrUnknownOpCode = errors.New("unknown frame opcode")
)

// EncodeFrame returns the binary frame for payload.
// Frame Format: [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)]
func EncodeFrame(op byte, payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = MagicByte
	frame[1] = op
	binary.LittleEndian.PutUint32(frame[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[6:10], crc32.ChecksumIEEE(payload))
	copy(frame[HeaderSize:], payload)
	return frame
}

// FrameWriter writes binary frames to an io.Writer.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter creates a writer that wraps an underlying io.Writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame encodes the payload into a frame and writes it with a single
// Write call.
func (fw *FrameWriter) WriteFrame(op byte, payload []byte) (int, error) {
	return fw.w.Write(EncodeFrame(op, payload))
}

// ReadFrame reads the next frame from r, validating the magic byte, the
// opcode and the CRC32 checksum.
// It returns the opcode, the payload and the total bytes consumed.
// A clean end of stream is reported as io.EOF.
func ReadFrame(r io.Reader) (byte, []byte, int, error) {
	header := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, 0, io.EOF
		}
		return 0, nil, 0, ErrIncompleteFrame
	}

	if header[0] != MagicByte {
		return 0, nil, HeaderSize, ErrInvalidMagic
	}
	op := header[1]
	if op != OpCodeCommand && op != OpCodeBatch {
		return 0, nil, HeaderSize, ErrUnknownOpCode
	}

	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, HeaderSize, ErrIncompleteFrame
	}

	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return 0, nil, HeaderSize + int(length), ErrChecksumMismatch
	}

	return op, payload, HeaderSize + int(length), nil
}
