package ipc

import (
	"errors"
	"fmt"
	"io"
)

// FrameErrorKind classifies message decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete message.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a size field exceeding MaxMessageSize.
	FrameErrorTooLarge
	// FrameErrorBadSize indicates a size field that cannot delimit the message.
	FrameErrorBadSize
	// FrameErrorMalformed indicates a size field or payload that does not
	// fit the message kind.
	FrameErrorMalformed
)

// FrameError represents a message decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the stream cannot be resynchronized.
// A malformed message whose size field is sane has already been consumed
// in full, so decoding can continue after it.
func (e *FrameError) IsFatal() bool {
	return e.Kind != FrameErrorMalformed
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// Decoder reads size-delimited controller messages from a stream.
type Decoder struct {
	reader io.Reader
}

// NewDecoder creates a new message decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// ReadMessage reads a single message from the stream.
//
// Errors:
//   - io.EOF: stream ended cleanly at a message boundary
//   - *FrameError with Kind=FrameErrorPartial: incomplete message (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: size exceeds limit (fatal)
//   - *FrameError with Kind=FrameErrorBadSize: size cannot delimit the message (fatal)
//   - *FrameError with Kind=FrameErrorMalformed: message skipped, stream usable
func (d *Decoder) ReadMessage() (*Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(d.reader, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read message header",
			Err:  err,
		}
	}

	first := byteOrder.Uint32(hdr[0:4])
	if first == Magic {
		return d.readInit(byteOrder.Uint32(hdr[4:8]))
	}

	id := MessageID(first)
	size := byteOrder.Uint32(hdr[4:8])

	if size > MaxMessageSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("message %s size %d exceeds maximum %d", id, size, MaxMessageSize),
		}
	}
	if size < HeaderSize {
		return nil, &FrameError{
			Kind: FrameErrorBadSize,
			Msg:  fmt.Sprintf("message %s size %d smaller than header", id, size),
		}
	}

	payload := make([]byte, size-HeaderSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  fmt.Sprintf("failed to read %s payload", id),
			Err:  err,
		}
	}

	return decodePayload(id, payload)
}

func (d *Decoder) readInit(version uint32) (*Message, error) {
	var rest [InitSize - HeaderSize]byte
	if _, err := io.ReadFull(d.reader, rest[:]); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read init message",
			Err:  err,
		}
	}

	if size := byteOrder.Uint32(rest[0:4]); size != InitSize {
		return nil, &FrameError{
			Kind: FrameErrorBadSize,
			Msg:  fmt.Sprintf("init size %d, want %d", size, InitSize),
		}
	}

	return &Message{
		Kind: KindInit,
		Init: Init{
			Magic:             Magic,
			Version:           version,
			CapabilityVersion: byteOrder.Uint32(rest[4:8]),
			Flags:             byteOrder.Uint32(rest[8:12]),
		},
	}, nil
}

// decodePayload interprets a payload using the registered kind for id,
// falling back to the payload length for unregistered ids.
func decodePayload(id MessageID, payload []byte) (*Message, error) {
	kind, ok := KindOf(id)
	if !ok {
		switch len(payload) {
		case 0:
			kind = KindCommand
		case 4:
			kind = KindValue
		default:
			kind = KindStr
		}
	}

	msg := &Message{Kind: kind, ID: id}
	switch kind {
	case KindCommand:
		if len(payload) != 0 {
			return nil, malformed(id, "command with %d byte payload", len(payload))
		}
	case KindValue, KindBool:
		if len(payload) != 4 {
			return nil, malformed(id, "value payload of %d bytes, want 4", len(payload))
		}
		msg.Value = byteOrder.Uint32(payload)
	case KindStr:
		if len(payload) == 0 || payload[len(payload)-1] != 0 {
			return nil, malformed(id, "string payload is not NUL-terminated")
		}
		msg.Str = string(payload[:len(payload)-1])
	}

	return msg, nil
}

func malformed(id MessageID, format string, args ...any) *FrameError {
	return &FrameError{
		Kind: FrameErrorMalformed,
		Msg:  fmt.Sprintf("malformed %s: %s", id, fmt.Sprintf(format, args...)),
	}
}
