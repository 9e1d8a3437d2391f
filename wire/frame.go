// Package wire frames typed messages as [length][tag][payload] and reverses the operation.
//
// Frame layout, all integers little endian:
//
//	0,1,2,3 - frame length of type uint32, counts tag plus payload bytes
//	4,5,6,7 - type tag of type uint32
//	8...    - serialized payload
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Meander-Cloud/go-netevent/neterror"
)

const (
	LengthSize int = 4
	TagSize    int = 4
	HeaderSize int = LengthSize + TagSize

	DefaultMaxFrameLength uint32 = 10 * 1024 * 1024 // 10 MiB
)

// Tag identifies a registered message type on the wire.
type Tag uint32

func (t Tag) String() string {
	return fmt.Sprintf("0x%08X", uint32(t))
}

// Envelope is one untyped message, payload already serialized.
type Envelope struct {
	Tag     Tag
	Payload []byte
}

// FrameLength is the value written to the length prefix for this envelope.
func (e Envelope) FrameLength() int {
	return TagSize + len(e.Payload)
}

// Encode returns one complete frame for tag and payload.
func Encode(tag Tag, payload []byte) ([]byte, error) {
	if uint64(len(payload))+uint64(TagSize) > math.MaxUint32 {
		return nil, neterror.New(neterror.CodeFrame, "payload of %d bytes does not fit a frame", len(payload))
	}
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), tag, payload), nil
}

// AppendFrame appends one frame to dst, caller guarantees payload fits a uint32 length.
func AppendFrame(dst []byte, tag Tag, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(TagSize+len(payload)))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(tag))
	return append(dst, payload...)
}

// ReadFrame reads exactly one frame from r.
// The length prefix is validated before anything else is read, so a frame is never read past its declared end.
// A clean end of stream before the first length byte returns io.EOF unchanged,
// a stream ending inside a frame or a declared length outside [TagSize, maxFrameLength] returns a FRAME error,
// any other read failure returns a TRANSPORT error.
func ReadFrame(r io.Reader, maxFrameLength uint32) (Tag, []byte, error) {
	var lengthBuf [LengthSize]byte
	_, err := io.ReadFull(r, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, readError(err, "length prefix")
	}

	frameLength := binary.LittleEndian.Uint32(lengthBuf[:])
	if frameLength < uint32(TagSize) {
		return 0, nil, neterror.New(neterror.CodeFrame, "frameLength=%d is shorter than tag", frameLength)
	}
	if frameLength > maxFrameLength {
		return 0, nil, neterror.New(neterror.CodeFrame, "frameLength=%d exceeds maxFrameLength=%d", frameLength, maxFrameLength)
	}

	body := make([]byte, frameLength)
	_, err = io.ReadFull(r, body)
	if err != nil {
		return 0, nil, readError(err, fmt.Sprintf("%d frame bytes", frameLength))
	}

	tag := Tag(binary.LittleEndian.Uint32(body[:TagSize]))
	return tag, body[TagSize:], nil
}

func readError(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return neterror.Wrap(neterror.CodeFrame, err, "stream ended while reading %s", what)
	}
	return neterror.Wrap(neterror.CodeTransport, err, "failed to read %s", what)
}
