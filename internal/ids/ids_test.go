package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not monotonic: %s <= %s", next, prev)
		}
		prev = next
	}
}

func TestWithPrefixRoundTripsTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := WithPrefix("TX")
	if !strings.HasPrefix(id, "tx_") {
		t.Fatalf("unexpected prefix: %s", id)
	}
	ts := Time(id)
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Fatalf("unexpected embedded time: %v", ts)
	}
	if !Time("not-an-id").IsZero() {
		t.Fatal("expected zero time for foreign id")
	}
}
