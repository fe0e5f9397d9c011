package audit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func loginEvent(org, actor string) *Event {
	return &Event{
		OrganizationID: org,
		Actor:          actor,
		ActorType:      ActorTypeUser,
		Action:         ActionLogin,
		ResourceType:   ResourceSession,
		ResourceID:     "sess-1",
	}
}

func TestMemoryLoggerLog(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns id, timestamp, and result", func(t *testing.T) {
		m := NewMemoryLogger()
		e := loginEvent("org-1", "jane@example.com")
		if err := m.Log(ctx, e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
		if e.ID == "" {
			t.Error("expected ID to be assigned")
		}
		if e.Timestamp.IsZero() {
			t.Error("expected timestamp to be assigned")
		}
		if e.Result != ResultSuccess {
			t.Errorf("expected default result success, got %q", e.Result)
		}
	})

	t.Run("nil event is a no-op", func(t *testing.T) {
		m := NewMemoryLogger()
		if err := m.Log(ctx, nil); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
		_, total, _ := m.List(ctx, ListOptions{})
		if total != 0 {
			t.Errorf("expected 0 events, got %d", total)
		}
	})

	t.Run("caps stored events", func(t *testing.T) {
		m := NewMemoryLogger(WithMaxEvents(3))
		for i := 0; i < 5; i++ {
			_ = m.Log(ctx, loginEvent("org-1", fmt.Sprintf("user-%d@example.com", i)))
		}
		events, total, err := m.List(ctx, ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if total != 3 {
			t.Errorf("expected 3 retained events, got %d", total)
		}
		// Newest first.
		if events[0].Actor != "user-4@example.com" {
			t.Errorf("expected newest event first, got %q", events[0].Actor)
		}
	})
}

func TestMemoryLoggerList(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger()

	_ = m.Log(ctx, loginEvent("org-1", "jane@example.com"))
	_ = m.Log(ctx, loginEvent("org-2", "bob@example.com"))
	_ = m.Log(ctx, &Event{
		OrganizationID: "org-1",
		Actor:          "jane@example.com",
		ActorType:      ActorTypeUser,
		Action:         ActionLoginFailed,
		ResourceType:   ResourceSession,
		ResourceID:     "sess-2",
		Result:         ResultFailure,
		Detail:         "email domain not allowed",
	})

	t.Run("filter by organization", func(t *testing.T) {
		events, total, err := m.List(ctx, ListOptions{OrganizationID: "org-1"})
		if err != nil {
			t.Fatal(err)
		}
		if total != 2 || len(events) != 2 {
			t.Errorf("expected 2 events, got total=%d len=%d", total, len(events))
		}
	})

	t.Run("filter by action", func(t *testing.T) {
		events, _, err := m.List(ctx, ListOptions{Action: ActionLoginFailed})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0].Detail != "email domain not allowed" {
			t.Errorf("unexpected events: %+v", events)
		}
	})

	t.Run("filter by time range", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		events, _, err := m.List(ctx, ListOptions{Since: &future})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 0 {
			t.Errorf("expected no events in the future, got %d", len(events))
		}
	})

	t.Run("pagination", func(t *testing.T) {
		events, total, err := m.List(ctx, ListOptions{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatal(err)
		}
		if total != 3 {
			t.Errorf("expected total 3, got %d", total)
		}
		if len(events) != 1 {
			t.Errorf("expected 1 event on second page, got %d", len(events))
		}
	})

	t.Run("returned events are copies", func(t *testing.T) {
		events, _, _ := m.List(ctx, ListOptions{Limit: 1})
		events[0].Actor = "mutated"
		again, _, _ := m.List(ctx, ListOptions{Limit: 1})
		if again[0].Actor == "mutated" {
			t.Error("stored event was mutated through a returned copy")
		}
	})
}

func TestMemoryLoggerGetByResource(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger()

	_ = m.Log(ctx, &Event{Actor: "admin-1", ActorType: ActorTypeAdmin, Action: ActionConfigCreate, ResourceType: ResourceConfiguration, ResourceID: "cfg-1"})
	_ = m.Log(ctx, &Event{Actor: "admin-1", ActorType: ActorTypeAdmin, Action: ActionConfigUpdate, ResourceType: ResourceConfiguration, ResourceID: "cfg-1"})
	_ = m.Log(ctx, &Event{Actor: "admin-1", ActorType: ActorTypeAdmin, Action: ActionConfigCreate, ResourceType: ResourceConfiguration, ResourceID: "cfg-2"})

	events, err := m.GetByResource(ctx, ResourceConfiguration, "cfg-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events for cfg-1, got %d", len(events))
	}
}

func TestMemoryLoggerRetention(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger()

	old := loginEvent("org-1", "old@example.com")
	old.Timestamp = time.Now().Add(-100 * 24 * time.Hour).UTC()
	_ = m.Log(ctx, old)
	_ = m.Log(ctx, loginEvent("org-1", "new@example.com"))

	deleted, err := m.DeleteOlderThan(ctx, time.Now().Add(-DefaultRetention))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	_, total, _ := m.List(ctx, ListOptions{})
	if total != 1 {
		t.Errorf("expected 1 remaining event, got %d", total)
	}
}
