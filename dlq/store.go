package dlq

import (
	"context"
	"time"

	"github.com/xraph/pulse/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Queue filters by originating queue name. Empty means all queues.
	Queue string
}

// Store defines the persistence contract for the dead letter sink.
type Store interface {
	// PushDLQ appends a failed job's diagnostic entry.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching the given options, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// MarkReplayed records that an entry was manually replayed. The
	// re-enqueue itself happens at the service layer.
	MarkReplayed(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries with FailedAt before the given time.
	// Only for explicit operator action; the sink is exempt from
	// automatic retention trimming. Returns the number removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries in the sink.
	CountDLQ(ctx context.Context) (int64, error)
}
