package txlog

import (
	"context"
	"fmt"

	"github.com/evalgo/gdbtx/store"
)

// Sink is what BackendTransaction.LogMutations writes an opaque payload
// into during the prepare phase; the commit engine depends only on this
// narrow interface, not on txlog.Logger directly.
type Sink interface {
	WritePayload(ctx context.Context, txID int64, payload []byte) error
}

// Logger appends header, payload, and trailer records to an underlying
// append-only store.LogStore, and trigger/audit-log records to a
// (possibly distinct) one.
type Logger struct {
	logStore   store.LogStore
	triggerLog store.LogStore
	Identifier string
}

// NewLogger returns a Logger appending transaction-log records to
// logStore and trigger/audit records to triggerLog. triggerLog may be
// nil if no trigger log identifier is configured.
func NewLogger(logStore, triggerLog store.LogStore, identifier string) *Logger {
	return &Logger{logStore: logStore, triggerLog: triggerLog, Identifier: identifier}
}

// WriteHeader appends a header record.
func (l *Logger) WriteHeader(ctx context.Context, h Header) error {
	if l.logStore == nil {
		return nil
	}
	if err := l.logStore.Append(ctx, EncodeHeader(h)); err != nil {
		return fmt.Errorf("txlog: append header: %w", err)
	}
	return nil
}

// WritePayload appends an opaque payload record produced by
// BackendTransaction.LogMutations. Implements Sink.
func (l *Logger) WritePayload(ctx context.Context, txID int64, payload []byte) error {
	if l.logStore == nil {
		return nil
	}
	if err := l.logStore.Append(ctx, payload); err != nil {
		return fmt.Errorf("txlog: append payload: %w", err)
	}
	return nil
}

// WriteTrailer appends a trailer record.
func (l *Logger) WriteTrailer(ctx context.Context, t Trailer) error {
	if l.logStore == nil {
		return nil
	}
	if err := l.logStore.Append(ctx, EncodeTrailer(t)); err != nil {
		return fmt.Errorf("txlog: append trailer: %w", err)
	}
	return nil
}

// WriteTriggerRecord appends a trigger/audit-log record, if a trigger
// log is configured. The commit engine records a failure here only in
// the trailer's trigger-success flag; it never changes the trailer
// status.
func (l *Logger) WriteTriggerRecord(ctx context.Context, r TriggerRecord) error {
	if l.triggerLog == nil {
		return nil
	}
	if err := l.triggerLog.Append(ctx, EncodeTriggerRecord(r)); err != nil {
		return fmt.Errorf("txlog: append trigger record: %w", err)
	}
	return nil
}

// Enabled reports whether a transaction log is configured at all.
func (l *Logger) Enabled() bool {
	return l != nil && l.logStore != nil
}
