package logging

import "testing"

func TestEventLogRecentBeforeWrapIsOldestFirst(t *testing.T) {
	l := NewEventLog(3)
	l.Record(EventLogEntry{Type: "a"})
	l.Record(EventLogEntry{Type: "b"})

	recent := l.Recent()
	if len(recent) != 2 || recent[0].Type != "a" || recent[1].Type != "b" {
		t.Fatalf("unexpected order: %v", recent)
	}
}

func TestEventLogWrapsAtCapacity(t *testing.T) {
	l := NewEventLog(2)
	l.Record(EventLogEntry{Type: "a"})
	l.Record(EventLogEntry{Type: "b"})
	l.Record(EventLogEntry{Type: "c"})

	recent := l.Recent()
	if len(recent) != 2 || recent[0].Type != "b" || recent[1].Type != "c" {
		t.Fatalf("expected ring to drop oldest entry, got %v", recent)
	}
}

func TestEventLogDefaultCapacity(t *testing.T) {
	l := NewEventLog(0)
	if l.capacity != 256 {
		t.Fatalf("expected default capacity 256, got %d", l.capacity)
	}
}
