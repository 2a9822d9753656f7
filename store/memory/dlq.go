package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/id"
)

func copyDLQEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make([]byte, len(e.Payload))
		copy(cp.Payload, e.Payload)
	}
	return &cp
}

// PushDLQ appends a dead letter entry.
func (s *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.entries[entry.ID.String()] = copyDLQEntry(entry)
	return nil
}

// ListDLQ returns entries matching the options, newest first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var matched []*dlq.Entry
	for _, entry := range s.entries {
		if opts.Queue != "" && entry.Queue != opts.Queue {
			continue
		}
		matched = append(matched, entry)
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].FailedAt.After(matched[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*dlq.Entry, 0, len(matched))
	for _, entry := range matched {
		out = append(out, copyDLQEntry(entry))
	}
	return out, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	entry, ok := s.entries[entryID.String()]
	if !ok {
		return nil, pulse.ErrDLQNotFound
	}
	return copyDLQEntry(entry), nil
}

// MarkReplayed stamps an entry's ReplayedAt.
func (s *Store) MarkReplayed(_ context.Context, entryID id.DLQID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	entry, ok := s.entries[entryID.String()]
	if !ok {
		return pulse.ErrDLQNotFound
	}
	now := time.Now().UTC()
	entry.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes entries that failed before the cutoff.
func (s *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var removed int64
	for key, entry := range s.entries {
		if entry.FailedAt.Before(before) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// CountDLQ returns the number of entries in the sink.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return int64(len(s.entries)), nil
}
