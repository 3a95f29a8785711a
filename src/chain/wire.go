package chain

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The functions in this file implement the integer encodings of the registry
// wire format. Counts use the compact-size encoding; internal sequence ids
// use the variable-length base-128 encoding. Both must match the historical
// format byte for byte, which is why they are written out by hand instead of
// relying on a general-purpose codec.

// MaxCompactSize is the largest count accepted when decoding. It bounds
// allocations when reading untrusted diffs.
const MaxCompactSize = 0x02000000

// WriteCompactSize writes n in compact-size encoding.
func WriteCompactSize(w io.Writer, n uint64) error {
	var buf [9]byte
	switch {
	case n < 253:
		buf[0] = byte(n)
		_, err := w.Write(buf[:1])
		return err
	case n <= 0xffff:
		buf[0] = 253
		binary.LittleEndian.PutUint16(buf[1:3], uint16(n))
		_, err := w.Write(buf[:3])
		return err
	case n <= 0xffffffff:
		buf[0] = 254
		binary.LittleEndian.PutUint32(buf[1:5], uint32(n))
		_, err := w.Write(buf[:5])
		return err
	default:
		buf[0] = 255
		binary.LittleEndian.PutUint64(buf[1:9], n)
		_, err := w.Write(buf[:9])
		return err
	}
}

// ReadCompactSize reads a compact-size encoded count. Non-canonical encodings
// and counts above MaxCompactSize are rejected.
func ReadCompactSize(r io.Reader) (uint64, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return 0, err
	}
	var n uint64
	switch tag[0] {
	case 253:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		n = uint64(binary.LittleEndian.Uint16(buf[:]))
		if n < 253 {
			return 0, fmt.Errorf("non-canonical compact size")
		}
	case 254:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		n = uint64(binary.LittleEndian.Uint32(buf[:]))
		if n <= 0xffff {
			return 0, fmt.Errorf("non-canonical compact size")
		}
	case 255:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		n = binary.LittleEndian.Uint64(buf[:])
		if n <= 0xffffffff {
			return 0, fmt.Errorf("non-canonical compact size")
		}
	default:
		n = uint64(tag[0])
	}
	if n > MaxCompactSize {
		return 0, fmt.Errorf("compact size %d too large", n)
	}
	return n, nil
}

// WriteVarInt writes n in variable-length base-128 encoding, most significant
// group first, with the continuation trick that makes the encoding bijective.
func WriteVarInt(w io.Writer, n uint64) error {
	var tmp [10]byte
	len := 0
	for {
		b := byte(n & 0x7f)
		if len != 0 {
			b |= 0x80
		}
		tmp[len] = b
		if n <= 0x7f {
			break
		}
		n = (n >> 7) - 1
		len++
	}
	for {
		if _, err := w.Write(tmp[len : len+1]); err != nil {
			return err
		}
		if len == 0 {
			return nil
		}
		len--
	}
}

// ReadVarInt reads a variable-length base-128 encoded integer.
func ReadVarInt(r io.Reader) (uint64, error) {
	var n uint64
	var buf [1]byte
	for i := 0; ; i++ {
		if i == 10 {
			return 0, fmt.Errorf("varint too long")
		}
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		ch := buf[0]
		if n > (^uint64(0)-uint64(ch&0x7f))>>7 {
			return 0, fmt.Errorf("varint overflow")
		}
		n = (n << 7) | uint64(ch&0x7f)
		if ch&0x80 == 0 {
			return n, nil
		}
		n++
	}
}

// WriteUint16 writes a little-endian uint16.
func WriteUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint16 reads a little-endian uint16.
func ReadUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// WriteUint32 writes a little-endian uint32.
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint32 reads a little-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteInt32 writes a little-endian int32. Heights serialize through this,
// including the -1 sentinels.
func WriteInt32(w io.Writer, v int32) error {
	return WriteUint32(w, uint32(v))
}

// ReadInt32 reads a little-endian int32.
func ReadInt32(r io.Reader) (int32, error) {
	v, err := ReadUint32(r)
	return int32(v), err
}

// WriteUint64 writes a little-endian uint64.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads a little-endian uint64.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteVarBytes writes a compact-size length prefix followed by b.
func WriteVarBytes(w io.Writer, b []byte) error {
	if err := WriteCompactSize(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadVarBytes reads a compact-size prefixed byte string of at most max
// bytes.
func ReadVarBytes(r io.Reader, max uint64) ([]byte, error) {
	n, err := ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	if n > max {
		return nil, fmt.Errorf("byte string of %d bytes too large", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Serialize writes the hash raw.
func (h Hash) Serialize(w io.Writer) error {
	_, err := w.Write(h[:])
	return err
}

// DeserializeHash reads a raw 32-byte hash.
func DeserializeHash(r io.Reader) (Hash, error) {
	var h Hash
	_, err := io.ReadFull(r, h[:])
	return h, err
}

// Serialize writes the key id raw.
func (k KeyID) Serialize(w io.Writer) error {
	_, err := w.Write(k[:])
	return err
}

// DeserializeKeyID reads a raw 20-byte key id.
func DeserializeKeyID(r io.Reader) (KeyID, error) {
	var k KeyID
	_, err := io.ReadFull(r, k[:])
	return k, err
}

// Serialize writes the outpoint as hash plus little-endian index.
func (o OutPoint) Serialize(w io.Writer) error {
	if err := o.Hash.Serialize(w); err != nil {
		return err
	}
	return WriteUint32(w, o.N)
}

// DeserializeOutPoint reads an outpoint.
func DeserializeOutPoint(r io.Reader) (OutPoint, error) {
	var o OutPoint
	var err error
	if o.Hash, err = DeserializeHash(r); err != nil {
		return o, err
	}
	o.N, err = ReadUint32(r)
	return o, err
}

// Serialize writes the service as 16 IP bytes plus big-endian port, the
// historical address encoding.
func (s Service) Serialize(w io.Writer) error {
	if _, err := w.Write(s.IP[:]); err != nil {
		return err
	}
	var buf [2]byte
	buf[0] = byte(s.Port >> 8)
	buf[1] = byte(s.Port)
	_, err := w.Write(buf[:])
	return err
}

// DeserializeService reads a service.
func DeserializeService(r io.Reader) (Service, error) {
	var s Service
	if _, err := io.ReadFull(r, s.IP[:]); err != nil {
		return s, err
	}
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return s, err
	}
	s.Port = uint16(buf[0])<<8 | uint16(buf[1])
	return s, nil
}
