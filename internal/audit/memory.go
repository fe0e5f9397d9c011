package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEvents is the default maximum number of events to store.
const DefaultMaxEvents = 10000

// MemoryLogger is an in-memory implementation of Logger.
// It stores events in a slice with newest events first.
// Thread-safe; storage is capped to prevent unbounded growth.
type MemoryLogger struct {
	mu        sync.RWMutex
	events    []*Event
	maxEvents int
}

// MemoryLoggerOption configures a MemoryLogger.
type MemoryLoggerOption func(*MemoryLogger)

// WithMaxEvents sets the maximum number of events to store.
func WithMaxEvents(max int) MemoryLoggerOption {
	return func(m *MemoryLogger) {
		if max > 0 {
			m.maxEvents = max
		}
	}
}

// NewMemoryLogger creates a new in-memory audit logger.
func NewMemoryLogger(opts ...MemoryLoggerOption) *MemoryLogger {
	m := &MemoryLogger{
		events:    make([]*Event, 0),
		maxEvents: DefaultMaxEvents,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Log records an audit event.
func (m *MemoryLogger) Log(_ context.Context, event *Event) error {
	if event == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Result == "" {
		event.Result = ResultSuccess
	}

	eventCopy := *event

	// Prepend (newest first), then trim.
	m.events = append([]*Event{&eventCopy}, m.events...)
	if len(m.events) > m.maxEvents {
		m.events = m.events[:m.maxEvents]
	}

	return nil
}

// List retrieves audit events with optional filtering.
// Returns the filtered events and the total count before pagination.
func (m *MemoryLogger) List(_ context.Context, opts ListOptions) ([]*Event, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []*Event
	for _, e := range m.events {
		if !matchesFilters(e, opts) {
			continue
		}
		filtered = append(filtered, e)
	}

	total := len(filtered)

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	start := opts.Offset
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + opts.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	result := filtered[start:end]
	copies := make([]*Event, len(result))
	for i, e := range result {
		cp := *e
		copies[i] = &cp
	}

	return copies, total, nil
}

// GetByResource retrieves audit events for a specific resource.
func (m *MemoryLogger) GetByResource(_ context.Context, resourceType, resourceID string) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

// DeleteOlderThan removes events older than the given time.
func (m *MemoryLogger) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []*Event
	var deleted int64
	for _, e := range m.events {
		if e.Timestamp.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return deleted, nil
}

func matchesFilters(e *Event, opts ListOptions) bool {
	if opts.OrganizationID != "" && e.OrganizationID != opts.OrganizationID {
		return false
	}
	if opts.Actor != "" && e.Actor != opts.Actor {
		return false
	}
	if opts.Action != "" && e.Action != opts.Action {
		return false
	}
	if opts.ResourceType != "" && e.ResourceType != opts.ResourceType {
		return false
	}
	if opts.Since != nil && e.Timestamp.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && e.Timestamp.After(*opts.Until) {
		return false
	}
	return true
}
