package preview_test

import (
	"testing"
	"time"

	"github.com/your-org/fd-attendance/internal/preview"
)

func TestCache_StoreGetConsume(t *testing.T) {
	c := preview.New(time.Minute, 10)
	c.Store("tok1", preview.Entry{Label: "Alice"})

	entry, ok := c.Get("tok1")
	if !ok || entry.Label != "Alice" {
		t.Fatalf("expected to find stored entry, got %+v ok=%v", entry, ok)
	}

	// Get must not consume.
	if _, ok := c.Get("tok1"); !ok {
		t.Fatalf("expected entry to still be present after Get")
	}

	entry, ok = c.Consume("tok1")
	if !ok || entry.Label != "Alice" {
		t.Fatalf("expected Consume to return the entry, got %+v ok=%v", entry, ok)
	}
	if _, ok := c.Get("tok1"); ok {
		t.Fatalf("expected entry to be gone after Consume")
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := preview.New(10*time.Millisecond, 10)
	c.Store("tok1", preview.Entry{Label: "Alice"})
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("tok1"); ok {
		t.Fatalf("expected entry to have expired")
	}
}

func TestCache_EvictsOldestOverCapacity(t *testing.T) {
	c := preview.New(time.Minute, 2)
	c.Store("tok1", preview.Entry{Label: "Alice"})
	time.Sleep(time.Millisecond)
	c.Store("tok2", preview.Entry{Label: "Bob"})
	time.Sleep(time.Millisecond)
	c.Store("tok3", preview.Entry{Label: "Carol"})

	if _, ok := c.Get("tok1"); ok {
		t.Fatalf("expected the oldest entry to have been evicted")
	}
	if _, ok := c.Get("tok3"); !ok {
		t.Fatalf("expected the newest entry to survive")
	}
}
