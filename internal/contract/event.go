package contract

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks reconciliation of a record with an outside system.
// The store stores and filters it but never interprets it.
type SyncStatus int64

const (
	SyncPending SyncStatus = 0
	SyncSynced  SyncStatus = 1
	SyncFailed  SyncStatus = 2
)

// NewSyncID returns a fresh correlation key for a sync attempt.
// UUIDv7 keeps keys sortable by creation time.
func NewSyncID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Event is one connectivity state change, the record type of the events
// and phoneEvents collections.
type Event struct {
	ID             int64
	Timestamp      time.Time
	MobileEnabled  bool
	MobileRoaming  bool
	MobileOperator *string
	SyncID         string
	SyncStatus     SyncStatus
}

// Millis converts t to the epoch-millisecond representation stored in the
// timestamp column.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Values returns the insertable columns of e. ID is omitted.
func (e Event) Values() Values {
	v := Values{
		ColumnTimestamp:     Millis(e.Timestamp),
		ColumnMobileEnabled: e.MobileEnabled,
		ColumnMobileRoaming: e.MobileRoaming,
		ColumnSyncID:        e.SyncID,
		ColumnSyncStatus:    int64(e.SyncStatus),
	}
	if e.MobileOperator != nil {
		v[ColumnMobileOperator] = *e.MobileOperator
	}
	return v
}

// EventFromValues builds an Event from a fully projected row.
func EventFromValues(v Values) (Event, error) {
	var e Event
	var ok bool
	if e.ID, ok = v[ColumnID].(int64); !ok {
		return Event{}, fmt.Errorf("event: missing %s", ColumnID)
	}
	ts, ok := v[ColumnTimestamp].(int64)
	if !ok {
		return Event{}, fmt.Errorf("event: missing %s", ColumnTimestamp)
	}
	e.Timestamp = time.UnixMilli(ts).UTC()
	if e.MobileEnabled, ok = v[ColumnMobileEnabled].(bool); !ok {
		return Event{}, fmt.Errorf("event: missing %s", ColumnMobileEnabled)
	}
	if e.MobileRoaming, ok = v[ColumnMobileRoaming].(bool); !ok {
		return Event{}, fmt.Errorf("event: missing %s", ColumnMobileRoaming)
	}
	if e.SyncID, ok = v[ColumnSyncID].(string); !ok {
		return Event{}, fmt.Errorf("event: missing %s", ColumnSyncID)
	}
	status, ok := v[ColumnSyncStatus].(int64)
	if !ok {
		return Event{}, fmt.Errorf("event: missing %s", ColumnSyncStatus)
	}
	e.SyncStatus = SyncStatus(status)
	if op, ok := v[ColumnMobileOperator].(string); ok {
		e.MobileOperator = &op
	}
	return e, nil
}
