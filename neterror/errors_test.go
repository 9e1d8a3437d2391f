package neterror

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-netevent/message"
)

func TestErrorMessage(t *testing.T) {
	err := New(CodeQueueFull, "conn=%d queue full", 7)
	assert.Equal(t, "conn=7 queue full", err.Error())

	wrapped := Wrap(CodeTransport, io.ErrClosedPipe, "write failed")
	assert.Equal(t, "write failed, err=io: read/write on closed pipe", wrapped.Error())

	bare := &Error{Code: CodeTimeout}
	assert.Equal(t, "TIMEOUT", bare.Error())
}

func TestErrorsIsByCode(t *testing.T) {
	err := New(CodeConnectionNotFound, "no such connection")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
	assert.NotErrorIs(t, err, ErrNotConnected)

	chained := fmt.Errorf("outer: %w", err)
	assert.ErrorIs(t, chained, ErrConnectionNotFound)
}

func TestWrapUnwrap(t *testing.T) {
	err := Wrap(CodeFrame, io.ErrUnexpectedEOF, "truncated")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrFrame)
	assert.Same(t, io.ErrUnexpectedEOF, errors.Unwrap(err))
}

func TestWithConn(t *testing.T) {
	base := New(CodeDeserialization, "bad payload")
	scoped := base.WithConn(message.ConnID(42))

	assert.Equal(t, message.ConnID(42), scoped.ConnID)
	assert.Equal(t, message.InvalidConnID, base.ConnID)
	assert.Equal(t, base.Message, scoped.Message)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeTagCollision, CodeOf(New(CodeTagCollision, "x")))
	assert.Equal(t, CodeShutdown, CodeOf(fmt.Errorf("wrapped: %w", ErrShutdown)))
	assert.Equal(t, CodeUnknown, CodeOf(io.EOF))
	assert.Equal(t, CodeUnknown, CodeOf(nil))
}

func TestFatal(t *testing.T) {
	tests := []struct {
		code  Code
		fatal bool
	}{
		{CodeTransport, true},
		{CodeFrame, true},
		{CodeDeserialization, true},
		{CodeUnregisteredType, true},
		{CodeSerialization, false},
		{CodeQueueFull, false},
		{CodeNotConnected, false},
		{CodeConnectionNotFound, false},
		{CodeInvalidConfig, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			require.Equal(t, tt.fatal, tt.code.Fatal())
		})
	}
}
