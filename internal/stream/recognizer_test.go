package stream

import (
	"testing"
	"time"
)

func TestJaccard_IdenticalSetsIsOne(t *testing.T) {
	a := map[string]float64{"Alice": 0.9, "Bob": 0.8}
	b := map[string]bool{"Alice": true, "Bob": true}
	if got := jaccard(a, b); got != 1 {
		t.Fatalf("expected identical sets to score 1, got %f", got)
	}
}

func TestJaccard_DisjointSetsIsZero(t *testing.T) {
	a := map[string]float64{"Alice": 0.9}
	b := map[string]bool{"Carol": true}
	if got := jaccard(a, b); got != 0 {
		t.Fatalf("expected disjoint sets to score 0, got %f", got)
	}
}

func TestJaccard_BothEmptyIsOne(t *testing.T) {
	if got := jaccard(map[string]float64{}, map[string]bool{}); got != 1 {
		t.Fatalf("expected both-empty to score 1 (no change), got %f", got)
	}
}

func TestJaccard_PartialOverlap(t *testing.T) {
	a := map[string]float64{"Alice": 0.9, "Bob": 0.8}
	b := map[string]bool{"Alice": true}
	// intersection=1, union=2
	if got := jaccard(a, b); got != 0.5 {
		t.Fatalf("expected 0.5, got %f", got)
	}
}

func TestSession_ConfigureClampsThreshold(t *testing.T) {
	s := NewSession(0.6, true, time.Now(), 2*time.Second)
	over := 1.5
	s.Configure(&over, nil)
	if s.threshold != 1.0 {
		t.Fatalf("expected threshold clamped to 1.0, got %f", s.threshold)
	}

	under := -0.5
	s.Configure(&under, nil)
	if s.threshold != 0 {
		t.Fatalf("expected threshold clamped to 0, got %f", s.threshold)
	}

	markOff := false
	s.Configure(nil, &markOff)
	if s.markEnabled {
		t.Fatalf("expected mark_enabled to be turned off")
	}
}

func TestNewSession_SetsMsgDelayUntilFromConnectTime(t *testing.T) {
	now := time.Now()
	s := NewSession(0.6, true, now, 2*time.Second)
	if !s.msgDelayUntil.Equal(now.Add(2 * time.Second)) {
		t.Fatalf("expected msg_delay_until = connect+delay, got %v", s.msgDelayUntil)
	}
}
