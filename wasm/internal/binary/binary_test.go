package binary

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x0a, 0x0b}
	r := NewReader(bytes.NewReader(data))

	for i, want := range data {
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReaderReadBytes(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04}))

	got, err := r.ReadBytes(3)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("ReadBytes: got %v, want [1 2 3]", got)
	}

	if _, err := r.ReadBytes(10); err == nil {
		t.Error("expected error for reading past EOF")
	}
}

func TestReadU32(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		r := NewReader(bytes.NewReader(tt.encoded))
		got, err := r.ReadU32()
		if err != nil {
			t.Errorf("ReadU32(%v): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadU32(%v): got %d, want %d", tt.encoded, got, tt.want)
		}
	}
}

func TestReadU32Overflow(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	_, err := r.ReadU32()
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestReadU32Truncated(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x80}))
	if _, err := r.ReadU32(); err == nil {
		t.Error("expected error for truncated LEB128")
	}
}

func TestNameRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteName("__wasmglue_descriptors")

	r := NewReader(bytes.NewReader(w.Bytes()))
	got, err := r.ReadName()
	if err != nil {
		t.Fatalf("ReadName: %v", err)
	}
	if got != "__wasmglue_descriptors" {
		t.Errorf("ReadName: got %q", got)
	}
}

func TestReadNameInvalidUTF8(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x02, 0xff, 0xfe}))
	if _, err := r.ReadName(); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestReadNameTruncated(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x05, 0x61, 0x62}))
	if _, err := r.ReadName(); err == nil {
		t.Error("expected error for truncated name")
	}
}

func TestU32LERoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteU32LE(0x04030201)
	if !bytes.Equal(w.Bytes(), []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("WriteU32LE: got %v", w.Bytes())
	}

	r := NewReader(bytes.NewReader(w.Bytes()))
	got, err := r.ReadU32LE()
	if err != nil {
		t.Fatalf("ReadU32LE: %v", err)
	}
	if got != 0x04030201 {
		t.Errorf("ReadU32LE: got 0x%08x, want 0x04030201", got)
	}
}

func TestReadU32LETruncated(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x01, 0x02}))
	if _, err := r.ReadU32LE(); err == nil {
		t.Error("expected error for truncated u32le")
	}
}

func TestReadRemaining(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04, 0x05}))
	r.ReadBytes(2)

	remaining, err := r.ReadRemaining()
	if err != nil {
		t.Fatalf("ReadRemaining: %v", err)
	}
	if !bytes.Equal(remaining, []byte{0x03, 0x04, 0x05}) {
		t.Errorf("ReadRemaining: got %v, want [3 4 5]", remaining)
	}
}

// sliceByteReader is not a *bytes.Reader, exercising the ReadRemaining
// fallback path.
type sliceByteReader struct {
	data []byte
	pos  int
}

func (s *sliceByteReader) ReadByte() (byte, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

func TestReadRemainingFallback(t *testing.T) {
	r := NewReader(&sliceByteReader{data: []byte{0x01, 0x02, 0x03}})
	remaining, err := r.ReadRemaining()
	if err != nil {
		t.Fatalf("ReadRemaining: %v", err)
	}
	if !bytes.Equal(remaining, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("ReadRemaining fallback: got %v", remaining)
	}
}

func TestWriterBasic(t *testing.T) {
	w := NewWriter()
	if w.Len() != 0 {
		t.Errorf("initial Len: got %d, want 0", w.Len())
	}

	w.Byte(0x42)
	w.WriteBytes([]byte{0x01, 0x02})
	if !bytes.Equal(w.Bytes(), []byte{0x42, 0x01, 0x02}) {
		t.Errorf("Bytes: got %v", w.Bytes())
	}
	if w.Len() != 3 {
		t.Errorf("Len: got %d, want 3", w.Len())
	}
}

func TestWriterWriteU32(t *testing.T) {
	tests := []struct {
		want  []byte
		value uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		w := NewWriter()
		w.WriteU32(tt.value)
		if !bytes.Equal(w.Bytes(), tt.want) {
			t.Errorf("WriteU32(%d): got %v, want %v", tt.value, w.Bytes(), tt.want)
		}
	}
}

func TestWrapError(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x01, 0x02}))
	r.ReadByte()
	r.ReadByte()

	err := r.WrapError("code section", errors.New("bad body"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Position != 2 {
		t.Errorf("Position: got %d, want 2", pe.Position)
	}
	if pe.Error() != "wasm: code section at position 2: bad body" {
		t.Errorf("Error(): got %q", pe.Error())
	}
}

func TestParseErrorNoSection(t *testing.T) {
	pe := &ParseError{Position: 5, Err: errors.New("some error")}
	if pe.Error() != "wasm: at position 5: some error" {
		t.Errorf("Error(): got %q", pe.Error())
	}
}

func TestParseErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	pe := &ParseError{Position: 1, Err: inner}
	if !errors.Is(pe, inner) {
		t.Error("errors.Is should reach the inner error")
	}
}
