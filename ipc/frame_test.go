package ipc

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func encode(t *testing.T, msgs ...Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		data, err := m.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary(%s) failed: %v", m, err)
		}
		buf.Write(data)
	}
	return buf.Bytes()
}

func rawHeader(id, size uint32) []byte {
	buf := byteOrder.AppendUint32(nil, id)
	return byteOrder.AppendUint32(buf, size)
}

func TestDecoder_ConfigurationSequence(t *testing.T) {
	stream := encode(t,
		NewInit(InitFlagExclusive),
		NewStr(MsgHost, "10.0.0.5"),
		NewValue(MsgPort, 5900),
		NewCommand(MsgConnect),
		NewCommand(MsgShow),
	)

	dec := NewDecoder(bytes.NewReader(stream))

	wantKinds := []Kind{KindInit, KindStr, KindValue, KindCommand, KindCommand}
	wantIDs := []MessageID{0, MsgHost, MsgPort, MsgConnect, MsgShow}
	for i := range wantKinds {
		m, err := dec.ReadMessage()
		if err != nil {
			t.Fatalf("message %d: ReadMessage failed: %v", i, err)
		}
		if m.Kind != wantKinds[i] {
			t.Errorf("message %d kind = %s, want %s", i, m.Kind, wantKinds[i])
		}
		if m.ID != wantIDs[i] {
			t.Errorf("message %d id = %s, want %s", i, m.ID, wantIDs[i])
		}
	}

	if _, err := dec.ReadMessage(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDecoder_StrAndValueOfSameSize(t *testing.T) {
	// "abc\x00" and a uint32 are both 4-byte payloads; the id decides.
	stream := encode(t, NewStr(MsgSetTitle, "abc"), NewValue(MsgColorDepth, 32))

	dec := NewDecoder(bytes.NewReader(stream))
	m, err := dec.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if m.Kind != KindStr || m.Str != "abc" {
		t.Errorf("first message = %+v, want Str abc", m)
	}
	m, err = dec.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if m.Kind != KindValue || m.Value != 32 {
		t.Errorf("second message = %+v, want Value 32", m)
	}
}

func TestDecoder_UnregisteredIDFallsBackToLength(t *testing.T) {
	var stream []byte
	stream = append(stream, rawHeader(500, 8)...)
	stream = append(stream, rawHeader(501, 12)...)
	stream = byteOrder.AppendUint32(stream, 7)
	stream = append(stream, rawHeader(502, 11)...)
	stream = append(stream, 'h', 'i', 0)

	dec := NewDecoder(bytes.NewReader(stream))
	want := []Kind{KindCommand, KindValue, KindStr}
	for i, k := range want {
		m, err := dec.ReadMessage()
		if err != nil {
			t.Fatalf("message %d: ReadMessage failed: %v", i, err)
		}
		if m.Kind != k {
			t.Errorf("message %d kind = %s, want %s", i, m.Kind, k)
		}
	}
}

func TestDecoder_EmptyStream(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader(nil)).ReadMessage()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDecoder_Errors(t *testing.T) {
	oversized := rawHeader(uint32(MsgHost), MaxMessageSize+1)
	undersized := rawHeader(uint32(MsgHost), 4)
	truncatedHeader := rawHeader(uint32(MsgPort), 12)[:5]
	truncatedPayload := append(rawHeader(uint32(MsgHost), 20), 'a', 'b')
	unterminated := append(rawHeader(uint32(MsgHost), 11), 'a', 'b', 'c')
	badValue := append(rawHeader(uint32(MsgPort), 10), 1, 2)
	commandWithPayload := append(rawHeader(uint32(MsgShow), 12), 0, 0, 0, 0)

	badInit := byteOrder.AppendUint32(nil, Magic)
	badInit = byteOrder.AppendUint32(badInit, Version)
	badInit = byteOrder.AppendUint32(badInit, 24)
	badInit = append(badInit, make([]byte, 8)...)

	tests := []struct {
		name      string
		data      []byte
		wantKind  FrameErrorKind
		wantFatal bool
	}{
		{"oversized", oversized, FrameErrorTooLarge, true},
		{"undersized", undersized, FrameErrorBadSize, true},
		{"truncated header", truncatedHeader, FrameErrorPartial, true},
		{"truncated payload", truncatedPayload, FrameErrorPartial, true},
		{"bad init size", badInit, FrameErrorBadSize, true},
		{"unterminated string", unterminated, FrameErrorMalformed, false},
		{"short value", badValue, FrameErrorMalformed, false},
		{"command with payload", commandWithPayload, FrameErrorMalformed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(bytes.NewReader(tt.data)).ReadMessage()
			var frameErr *FrameError
			if !errors.As(err, &frameErr) {
				t.Fatalf("expected *FrameError, got %T: %v", err, err)
			}
			if frameErr.Kind != tt.wantKind {
				t.Errorf("Kind = %d, want %d", frameErr.Kind, tt.wantKind)
			}
			if IsFatalFrameError(err) != tt.wantFatal {
				t.Errorf("IsFatalFrameError = %v, want %v", IsFatalFrameError(err), tt.wantFatal)
			}
		})
	}
}

func TestDecoder_ContinuesAfterMalformed(t *testing.T) {
	stream := append(rawHeader(uint32(MsgHost), 11), 'a', 'b', 'c')
	stream = append(stream, encode(t, NewCommand(MsgShow))...)

	dec := NewDecoder(bytes.NewReader(stream))
	if _, err := dec.ReadMessage(); IsFatalFrameError(err) || err == nil {
		t.Fatalf("expected non-fatal malformed error, got %v", err)
	}
	m, err := dec.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage after malformed failed: %v", err)
	}
	if m.ID != MsgShow {
		t.Errorf("id = %s, want SHOW", m.ID)
	}
}

func TestFrameError_Unwrap(t *testing.T) {
	inner := io.ErrUnexpectedEOF
	err := &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: inner}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("FrameError should unwrap to inner error")
	}
	if err.Error() != "failed to read payload: unexpected EOF" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIsFatalFrameError_NonFrameError(t *testing.T) {
	if IsFatalFrameError(errors.New("boom")) {
		t.Error("plain errors are not fatal frame errors")
	}
	if IsFatalFrameError(nil) {
		t.Error("nil is not a fatal frame error")
	}
}
