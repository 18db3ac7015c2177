package crdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// The wire format for updates and snapshots is a small self-describing
// binary encoding: every variable-length field is a uvarint length
// prefix followed by its bytes, so a decoder never has to guess a
// field's extent. No general-purpose serialization library in the
// retrieval pack models this CRDT's update/snapshot shapes, and the
// format is simple enough that hand-rolling it is less code than
// adapting one designed for a different wire shape.

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

func (e *encoder) byte(b byte) {
	e.buf.WriteByte(b)
}

func (e *encoder) bytesField(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf.Write(b)
}

func (e *encoder) stringField(s string) {
	e.bytesField([]byte(s))
}

func (e *encoder) tag(t Tag) {
	e.uvarint(t.Counter)
	e.stringField(t.Replica)
}

func (e *encoder) stateVector(sv map[string]uint64) {
	e.uvarint(uint64(len(sv)))

	for replica, counter := range sv {
		e.stringField(replica)
		e.uvarint(counter)
	}
}

func (e *encoder) bytes() []byte {
	return e.buf.Bytes()
}

type decoder struct {
	buf []byte
	pos int
}

func newDecoder(b []byte) *decoder {
	return &decoder{buf: b}
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("crdt: truncated uvarint at offset %d", d.pos)
	}

	d.pos += n

	return v, nil
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("crdt: truncated byte at offset %d", d.pos)
	}

	b := d.buf[d.pos]
	d.pos++

	return b, nil
}

func (d *decoder) bytesField() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}

	if d.pos+int(n) > len(d.buf) {
		return nil, fmt.Errorf("crdt: truncated field of length %d at offset %d", n, d.pos)
	}

	out := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)

	return out, nil
}

func (d *decoder) stringField() (string, error) {
	b, err := d.bytesField()
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func (d *decoder) tag() (Tag, error) {
	counter, err := d.uvarint()
	if err != nil {
		return Tag{}, err
	}

	replica, err := d.stringField()
	if err != nil {
		return Tag{}, err
	}

	return Tag{Counter: counter, Replica: replica}, nil
}

func (d *decoder) stateVector() (map[string]uint64, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}

	sv := make(map[string]uint64, n)

	for i := uint64(0); i < n; i++ {
		replica, err := d.stringField()
		if err != nil {
			return nil, err
		}

		counter, err := d.uvarint()
		if err != nil {
			return nil, err
		}

		sv[replica] = counter
	}

	return sv, nil
}

func (d *decoder) done() bool {
	return d.pos >= len(d.buf)
}

// EncodeStateVector serializes a state vector for the handshake's
// first phase.
func EncodeStateVector(sv map[string]uint64) []byte {
	var e encoder
	e.stateVector(sv)

	return e.bytes()
}

// DecodeStateVector parses a state vector produced by
// EncodeStateVector.
func DecodeStateVector(b []byte) (map[string]uint64, error) {
	d := newDecoder(b)

	sv, err := d.stateVector()
	if err != nil {
		return nil, fmt.Errorf("crdt: decoding state vector: %w", err)
	}

	return sv, nil
}
