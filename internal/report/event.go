package report

import (
	"math"

	"github.com/busybox42/tlsrptd/internal/storage"
)

// SeqScanFloor and SeqScanCeiling bound a within-group range scan. They
// are reserved sentinels, never assigned to real events.
const (
	SeqScanFloor   uint64 = 0
	SeqScanCeiling uint64 = math.MaxUint64
)

// ReportEvent identifies one entry of the report event log. Domain,
// PolicyHash and Due name the group; SeqID orders events within it. For
// header and lock keys SeqID carries the window start timestamp instead.
type ReportEvent struct {
	Domain     string
	PolicyHash uint64
	Due        uint64
	SeqID      uint64
}

func (e ReportEvent) encode(class byte) []byte {
	return storage.NewKeyBuilder(1 + len(e.Domain) + 1 + 3*storage.U64Len).
		Byte(class).
		String(e.Domain).
		Uint64(e.PolicyHash).
		Uint64(e.Due).
		Uint64(e.SeqID).
		Build()
}

// EventKey encodes the event-log entry key. The domain sorts first, then
// policy hash and due time, then sequence id, so a range scan over
// [SeqScanFloor, SeqScanCeiling] yields exactly one group's events in
// ascending sequence order.
func (e ReportEvent) EventKey() []byte {
	return e.encode(storage.ClassReportEvent)
}

// HeaderKey encodes the group's metadata entry key.
func (e ReportEvent) HeaderKey() []byte {
	return e.encode(storage.ClassReportHeader)
}

// LockKey encodes the group's delivery lock marker key.
func (e ReportEvent) LockKey() []byte {
	return e.encode(storage.ClassReportLock)
}

// DecodeEventKey parses a stored key of the given class back into a
// ReportEvent, returning storage.ErrCorruptedKey for malformed bytes.
func DecodeEventKey(class byte, key []byte) (ReportEvent, error) {
	var e ReportEvent
	if len(key) < 1 || key[0] != class {
		return e, storage.ErrCorruptedKey
	}

	domain, offset, err := storage.DecodeString(key, 1)
	if err != nil {
		return e, err
	}
	e.Domain = domain

	if e.PolicyHash, err = storage.DecodeUint64(key, offset); err != nil {
		return e, err
	}
	if e.Due, err = storage.DecodeUint64(key, offset+storage.U64Len); err != nil {
		return e, err
	}
	if e.SeqID, err = storage.DecodeUint64(key, offset+2*storage.U64Len); err != nil {
		return e, err
	}
	if len(key) != offset+3*storage.U64Len {
		return e, storage.ErrCorruptedKey
	}
	return e, nil
}

// groupFloor and groupCeiling bound the event range of e's group.
func (e ReportEvent) groupFloor() []byte {
	return ReportEvent{
		Domain:     e.Domain,
		PolicyHash: e.PolicyHash,
		Due:        e.Due,
		SeqID:      SeqScanFloor,
	}.EventKey()
}

func (e ReportEvent) groupCeiling() []byte {
	return ReportEvent{
		Domain:     e.Domain,
		PolicyHash: e.PolicyHash,
		Due:        e.Due,
		SeqID:      SeqScanCeiling,
	}.EventKey()
}
