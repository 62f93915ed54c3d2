package ssdtier

import "testing"

func TestFreqGroupStats_AdmitsAfterThresholdObservations(t *testing.T) {
	g := NewFreqGroupStats(3)

	for i := 0; i < 2; i++ {
		if g.ShouldSaveToSSD(1, 100) {
			t.Fatalf("observation %d: must not admit before reaching the threshold", i+1)
		}
	}
	if !g.ShouldSaveToSSD(1, 100) {
		t.Fatal("third observation must admit once the threshold is reached")
	}
	if !g.ShouldSaveToSSD(1, 100) {
		t.Fatal("once admitted, further observations stay admitted")
	}
}

func TestFreqGroupStats_TracksGroupsIndependently(t *testing.T) {
	g := NewFreqGroupStats(2)

	if g.ShouldSaveToSSD(1, 100) {
		t.Fatal("group 1 must not admit on its first observation")
	}
	if g.ShouldSaveToSSD(2, 100) {
		t.Fatal("group 2 must not admit on its first observation either")
	}
	if !g.ShouldSaveToSSD(1, 100) {
		t.Fatal("group 1's second observation must admit")
	}
	if g.ShouldSaveToSSD(2, 200) {
		t.Fatal("a distinct trackingID under group 2 starts its own count")
	}
}

func TestFreqGroupStats_ZeroThresholdAdmitsImmediately(t *testing.T) {
	g := NewFreqGroupStats(0)
	if !g.ShouldSaveToSSD(7, 7) {
		t.Fatal("a zero threshold is normalized to 1: the first observation must admit")
	}
}

func TestFreqGroupStats_WholesaleClearOnOverflow(t *testing.T) {
	fg := &freqGroupStats{
		counts:     make(map[uint64]uint32),
		threshold:  2,
		maxTracked: 2,
	}

	fg.ShouldSaveToSSD(1, 1)
	fg.ShouldSaveToSSD(2, 2)
	if len(fg.counts) != 2 {
		t.Fatalf("want 2 tracked keys, got %d", len(fg.counts))
	}

	// This third distinct key exceeds maxTracked, so the whole table resets
	// before the new observation is recorded.
	if fg.ShouldSaveToSSD(3, 3) {
		t.Fatal("a freshly reset table must not admit on the first observation")
	}
	if len(fg.counts) != 1 {
		t.Fatalf("want the table cleared down to just the new key, got %d entries", len(fg.counts))
	}
}

func TestFreqGroupStats_UpdateSSDFilterThresholdTiers(t *testing.T) {
	fg := &freqGroupStats{counts: make(map[uint64]uint32)}

	cases := []struct {
		name        string
		targetBytes int64
		want        uint32
	}{
		{"no headroom stops admitting", 0, 1 << 20},
		{"negative headroom stops admitting", -1, 1 << 20},
		{"more than 16GiB admits eagerly", (1 << 34) + 1, 1},
		{"more than 1GiB but at most 16GiB", (1 << 30) + 1, 2},
		{"1GiB or less falls back to the default", 1 << 30, 4},
		{"tiny headroom", 1, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fg.UpdateSSDFilter(tc.targetBytes)
			if fg.threshold != tc.want {
				t.Fatalf("targetBytes=%d: want threshold %d, got %d", tc.targetBytes, tc.want, fg.threshold)
			}
		})
	}
}

func TestFreqGroupStats_TrackingKeyIsStableAndOrderSensitive(t *testing.T) {
	a := trackingKey(1, 2)
	b := trackingKey(1, 2)
	if a != b {
		t.Fatal("trackingKey must be a pure function of its inputs")
	}
	if trackingKey(1, 2) == trackingKey(2, 1) {
		t.Fatal("swapping groupID and trackingID should not usually collide")
	}
}
