package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrOverflow is returned when a LEB128 value exceeds the maximum bit width.
var ErrOverflow = errors.New("leb128: overflow")

func readULEB[T uint32 | uint64](r io.ByteReader, maxShift uint) (T, error) {
	var v T
	for shift := uint(0); ; shift += 7 {
		if shift >= maxShift {
			return 0, ErrOverflow
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= T(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
}

func readSLEB[T int32 | int64](r io.ByteReader, width, maxShift uint) (T, error) {
	var v T
	var shift uint
	var b byte
	for {
		var err error
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= T(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= maxShift {
			return 0, ErrOverflow
		}
	}
	if shift < width && b&0x40 != 0 {
		v |= ^T(0) << shift
	}
	return v, nil
}

func writeULEB[T uint32 | uint64](w *bytes.Buffer, v T) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func writeSLEB[T int32 | int64](w *bytes.Buffer, v T) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.WriteByte(b)
			return
		}
		w.WriteByte(b | 0x80)
	}
}

// ReadLEB128u reads an unsigned LEB128 uint32.
func ReadLEB128u(r io.ByteReader) (uint32, error) {
	return readULEB[uint32](r, 35)
}

// ReadLEB128u64 reads an unsigned LEB128 uint64.
func ReadLEB128u64(r io.ByteReader) (uint64, error) {
	return readULEB[uint64](r, 70)
}

// ReadLEB128s reads a signed LEB128 int32.
func ReadLEB128s(r io.ByteReader) (int32, error) {
	return readSLEB[int32](r, 32, 35)
}

// ReadLEB128s64 reads a signed LEB128 int64.
func ReadLEB128s64(r io.ByteReader) (int64, error) {
	return readSLEB[int64](r, 64, 70)
}

// WriteLEB128u writes an unsigned LEB128 uint32.
func WriteLEB128u(w *bytes.Buffer, v uint32) {
	writeULEB(w, v)
}

// WriteLEB128u64 writes an unsigned LEB128 uint64.
func WriteLEB128u64(w *bytes.Buffer, v uint64) {
	writeULEB(w, v)
}

// WriteLEB128s writes a signed LEB128 int32.
func WriteLEB128s(w *bytes.Buffer, v int32) {
	writeSLEB(w, v)
}

// WriteLEB128s64 writes a signed LEB128 int64.
func WriteLEB128s64(w *bytes.Buffer, v int64) {
	writeSLEB(w, v)
}

// ReadFloat32 reads a little-endian float32.
func ReadFloat32(r io.Reader) (float32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[:])), nil
}

// ReadFloat64 reads a little-endian float64.
func ReadFloat64(r io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

// WriteFloat32 writes a little-endian float32.
func WriteFloat32(w *bytes.Buffer, v float32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
	w.Write(buf[:])
}

// WriteFloat64 writes a little-endian float64.
func WriteFloat64(w *bytes.Buffer, v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	w.Write(buf[:])
}
