// Package txlog defines the write-ahead transaction-log record format
// (spec §6): a header, an opaque payload, and a trailer per transaction,
// plus the trigger/audit-log record format. Header and trailer carry the
// txId and a phase status; the payload record is appended as-is and
// carries no txId of its own.
// Encoding uses fixed-width fields for anything compared or sorted and
// varint-encoded unsigned integers (ids, counts, lengths) elsewhere —
// the same "opaque but bit-exact" framing spec.md §6 specifies.
package txlog

import (
	"encoding/binary"
	"fmt"

	"github.com/evalgo/gdbtx/model"
)

// Status is the transaction-log record status enumeration.
type Status byte

const (
	PreflushSystem Status = iota
	SuccessSystem
	FailureSystem
	Precommit
	Success
	Failure
)

func (s Status) String() string {
	switch s {
	case PreflushSystem:
		return "PREFLUSH_SYSTEM"
	case SuccessSystem:
		return "SUCCESS_SYSTEM"
	case FailureSystem:
		return "FAILURE_SYSTEM"
	case Precommit:
		return "PRECOMMIT"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Header is the fixed layout carried by every transaction-log record
// (the header itself, and repeated at the start of the trailer).
type Header struct {
	TxID            int64
	CommitTimestamp int64
	Status          Status
	// Config is the opaque serialized transaction configuration,
	// present only on the opening header, never required on the
	// trailer.
	Config []byte
}

func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// EncodeHeader serializes h.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, 0, 24+len(h.Config))
	buf = putUvarint(buf, uint64(h.TxID))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(h.CommitTimestamp))
	buf = append(buf, ts[:]...)
	buf = append(buf, byte(h.Status))
	if len(h.Config) > 0 {
		buf = append(buf, 1)
		buf = putUvarint(buf, uint64(len(h.Config)))
		buf = append(buf, h.Config...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeHeader reads a Header from the front of buf, returning the
// number of bytes consumed.
func DecodeHeader(buf []byte) (Header, int, error) {
	var h Header
	off := 0

	txID, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return h, 0, fmt.Errorf("txlog: malformed txId varint")
	}
	off += n
	h.TxID = int64(txID)

	if len(buf) < off+8 {
		return h, 0, fmt.Errorf("txlog: truncated commitTimestamp")
	}
	h.CommitTimestamp = int64(binary.BigEndian.Uint64(buf[off : off+8]))
	off += 8

	if len(buf) < off+1 {
		return h, 0, fmt.Errorf("txlog: truncated status")
	}
	h.Status = Status(buf[off])
	off++

	if len(buf) < off+1 {
		return h, 0, fmt.Errorf("txlog: truncated config flag")
	}
	hasConfig := buf[off] == 1
	off++
	if hasConfig {
		l, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return h, 0, fmt.Errorf("txlog: malformed config length varint")
		}
		off += n
		if len(buf) < off+int(l) {
			return h, 0, fmt.Errorf("txlog: truncated config")
		}
		h.Config = buf[off : off+int(l)]
		off += int(l)
	}
	return h, off, nil
}

// FailureDetail is the additional information a trailer carries when
// its final status is FAILURE.
type FailureDetail struct {
	StorageSuccess    bool
	TriggerSuccess    bool
	FailingIndexNames []string
}

// Trailer repeats the header layout with the final status, plus
// FailureDetail when that status is FAILURE.
type Trailer struct {
	Header  Header
	Failure *FailureDetail
}

func putBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// EncodeTrailer serializes t.
func EncodeTrailer(t Trailer) []byte {
	buf := EncodeHeader(t.Header)
	if t.Header.Status != Failure || t.Failure == nil {
		return buf
	}
	buf = putBool(buf, t.Failure.StorageSuccess)
	buf = putBool(buf, t.Failure.TriggerSuccess)
	buf = putUvarint(buf, uint64(len(t.Failure.FailingIndexNames)))
	for _, name := range t.Failure.FailingIndexNames {
		nameBytes := []byte(name)
		buf = putUvarint(buf, uint64(len(nameBytes)))
		buf = append(buf, nameBytes...)
	}
	return buf
}

// DecodeTrailer reads a Trailer from the front of buf.
func DecodeTrailer(buf []byte) (Trailer, int, error) {
	header, off, err := DecodeHeader(buf)
	if err != nil {
		return Trailer{}, 0, err
	}
	t := Trailer{Header: header}
	if header.Status != Failure {
		return t, off, nil
	}

	if len(buf) < off+2 {
		return t, 0, fmt.Errorf("txlog: truncated failure booleans")
	}
	detail := &FailureDetail{
		StorageSuccess: buf[off] == 1,
		TriggerSuccess: buf[off+1] == 1,
	}
	off += 2

	count, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return t, 0, fmt.Errorf("txlog: malformed index failure count varint")
	}
	off += n

	detail.FailingIndexNames = make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		l, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return t, 0, fmt.Errorf("txlog: malformed index name length varint")
		}
		off += n
		if len(buf) < off+int(l) {
			return t, 0, fmt.Errorf("txlog: truncated index name")
		}
		detail.FailingIndexNames = append(detail.FailingIndexNames, string(buf[off:off+int(l)]))
		off += int(l)
	}
	t.Failure = detail
	return t, off, nil
}

// TriggerRelation is one relation's contribution to a trigger/audit-log
// record: the owning vertex's id and the physical entry written at
// position 0.
type TriggerRelation struct {
	Vertex0ID int64
	Entry     model.Entry
}

func encodeEntry(buf []byte, e model.Entry) []byte {
	buf = putUvarint(buf, uint64(len(e.Column)))
	buf = append(buf, e.Column...)
	buf = putUvarint(buf, uint64(len(e.Value)))
	buf = append(buf, e.Value...)
	return buf
}

func decodeEntry(buf []byte, off int) (model.Entry, int, error) {
	colLen, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return model.Entry{}, 0, fmt.Errorf("txlog: malformed column length varint")
	}
	off += n
	if len(buf) < off+int(colLen) {
		return model.Entry{}, 0, fmt.Errorf("txlog: truncated column")
	}
	col := buf[off : off+int(colLen)]
	off += int(colLen)

	valLen, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return model.Entry{}, 0, fmt.Errorf("txlog: malformed value length varint")
	}
	off += n
	if len(buf) < off+int(valLen) {
		return model.Entry{}, 0, fmt.Errorf("txlog: truncated value")
	}
	val := buf[off : off+int(valLen)]
	off += int(valLen)

	return model.Entry{Column: model.StaticBuffer(col), Value: model.StaticBuffer(val)}, off, nil
}

// TriggerRecord is the trigger/audit-log record: commit metadata plus
// the position-0 entry for every added and removed relation.
type TriggerRecord struct {
	CommitTimestamp int64
	TxID            int64
	Added           []TriggerRelation
	Removed         []TriggerRelation
}

// EncodeTriggerRecord serializes r.
func EncodeTriggerRecord(r TriggerRecord) []byte {
	buf := make([]byte, 0, 64)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(r.CommitTimestamp))
	buf = append(buf, ts[:]...)
	buf = putUvarint(buf, uint64(r.TxID))
	buf = putUvarint(buf, uint64(len(r.Added)))
	for _, tr := range r.Added {
		buf = putUvarint(buf, uint64(tr.Vertex0ID))
		buf = encodeEntry(buf, tr.Entry)
	}
	buf = putUvarint(buf, uint64(len(r.Removed)))
	for _, tr := range r.Removed {
		buf = putUvarint(buf, uint64(tr.Vertex0ID))
		buf = encodeEntry(buf, tr.Entry)
	}
	return buf
}

// DecodeTriggerRecord reads a TriggerRecord from buf.
func DecodeTriggerRecord(buf []byte) (TriggerRecord, error) {
	if len(buf) < 8 {
		return TriggerRecord{}, fmt.Errorf("txlog: truncated commitTimestamp")
	}
	var r TriggerRecord
	r.CommitTimestamp = int64(binary.BigEndian.Uint64(buf[:8]))
	off := 8

	txID, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return r, fmt.Errorf("txlog: malformed txId varint")
	}
	off += n
	r.TxID = int64(txID)

	readRelations := func() ([]TriggerRelation, error) {
		count, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return nil, fmt.Errorf("txlog: malformed relation count varint")
		}
		off += n
		out := make([]TriggerRelation, 0, count)
		for i := uint64(0); i < count; i++ {
			vid, n := binary.Uvarint(buf[off:])
			if n <= 0 {
				return nil, fmt.Errorf("txlog: malformed vertex id varint")
			}
			off += n
			entry, newOff, err := decodeEntry(buf, off)
			if err != nil {
				return nil, err
			}
			off = newOff
			out = append(out, TriggerRelation{Vertex0ID: int64(vid), Entry: entry})
		}
		return out, nil
	}

	added, err := readRelations()
	if err != nil {
		return r, err
	}
	r.Added = added

	removed, err := readRelations()
	if err != nil {
		return r, err
	}
	r.Removed = removed

	return r, nil
}
