package horizoncache

import (
	"fmt"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(1000, nil)
	key := []byte("k1")
	val := []byte("hello world")

	if _, err := c.Put(key, val, PutOptions{Priority: PriorityNormal}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := c.Get(key)
	if !ok {
		t.Fatalf("expected hit")
	}
	if string(got.Value) != string(val) {
		t.Fatalf("got %q, want %q", got.Value, val)
	}
}

func TestDeleteInvalidatesAllLevels(t *testing.T) {
	c := New(1000, nil)
	key := []byte("k")
	if _, err := c.Put(key, []byte("v"), PutOptions{Priority: PriorityLow}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !c.Delete(key) {
		t.Fatalf("expected Delete to report key existed")
	}
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestAdmissionLevelsByPriority(t *testing.T) {
	cases := []struct {
		priority Priority
		size     int
		want     Level
	}{
		{PriorityCritical, 1024, LevelHorizon},
		{PriorityCritical, 40 * 1024, LevelHorizon},
		{PriorityCritical, 60 * 1024, LevelPhoton},
		{PriorityNormal, 1024, LevelPhoton},
		{PriorityHigh, 1024, LevelPhoton},
		{PriorityLow, 1024, LevelDeep},
		{PriorityBackground, 1024, LevelDeep},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			c := New(1000, nil)
			key := []byte(fmt.Sprintf("k%d", i))
			res, err := c.Put(key, make([]byte, tc.size), PutOptions{Priority: tc.priority})
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if res.Level != tc.want {
				t.Fatalf("got level %v, want %v", res.Level, tc.want)
			}
		})
	}
}

func TestCapacityTriggeredEviction(t *testing.T) {
	c := New(100, nil)
	for i := 0; i < 110; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		if _, err := c.Put(key, []byte("v"), PutOptions{Priority: PriorityNormal}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	m := c.Metrics()
	if m.ItemCount >= 100 {
		t.Fatalf("expected eviction to keep item count below capacity, got %d", m.ItemCount)
	}
	if m.Evictions == 0 {
		t.Fatalf("expected at least one eviction")
	}
}

func TestEmergencyEvictionProtectsCriticalUnlessEmergency(t *testing.T) {
	c := New(1000, nil)
	protectedKey := []byte("protected")
	if _, err := c.Put(protectedKey, []byte("v"), PutOptions{Priority: PriorityCritical}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("filler%d", i))
		if _, err := c.Put(key, []byte("v"), PutOptions{Priority: PriorityCritical}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	report := c.EmitEviction(IntensityNormal)
	if _, ok := c.Get(protectedKey); !ok {
		t.Fatalf("expected protected key to survive non-emergency eviction (evicted %d)", report.EvictedCount)
	}

	c.EmitEviction(IntensityEmergency)
	// Emergency eviction MAY evict the protected key; we only assert it is
	// eligible for selection (no crash, no panic, ranking still runs).
}

func TestEvictionBoundsPerCall(t *testing.T) {
	c := New(10000, nil)
	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		if _, err := c.Put(key, []byte("v"), PutOptions{Priority: PriorityLow}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	report := c.EmitEviction(IntensityAggressive)
	for lvl, n := range report.PerLevel {
		if n < 1 || n > 100 {
			t.Fatalf("level %v evicted %d, want within [1,100]", lvl, n)
		}
	}
}

func TestHawkingTemperatureScalesEvictionFraction(t *testing.T) {
	fill := func(c *Cache) {
		for i := 0; i < 500; i++ {
			key := []byte(fmt.Sprintf("k%d", i))
			if _, err := c.Put(key, []byte("v"), PutOptions{Priority: PriorityLow}); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}
	}

	cold := NewWithTemperature(10000, 0.02, nil)
	fill(cold)
	coldReport := cold.EmitEviction(IntensityNormal)

	hot := NewWithTemperature(10000, 0.5, nil)
	fill(hot)
	hotReport := hot.EmitEviction(IntensityNormal)

	if hotReport.EvictedCount <= coldReport.EvictedCount {
		t.Fatalf("expected higher temperature to evict more entries: cold=%d hot=%d",
			coldReport.EvictedCount, hotReport.EvictedCount)
	}
}

func TestCompressionRoundTripAcrossLevels(t *testing.T) {
	big := make([]byte, 8192)
	for i := range big {
		big[i] = byte(i)
	}
	for _, p := range []Priority{PriorityCritical, PriorityNormal, PriorityLow} {
		c := New(1000, nil)
		key := []byte("k")
		if _, err := c.Put(key, big, PutOptions{Priority: p}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, ok := c.Get(key)
		if !ok {
			t.Fatalf("expected hit for priority %v", p)
		}
		if len(got.Value) != len(big) {
			t.Fatalf("priority %v: length mismatch got %d want %d", p, len(got.Value), len(big))
		}
		for i := range big {
			if got.Value[i] != big[i] {
				t.Fatalf("priority %v: byte %d mismatch", p, i)
			}
		}
	}
}
