package metrics

import (
	"math"
	"testing"
)

func TestHistogramBasic(t *testing.T) {
	h := NewHistogram([]float64{10, 50, 100, 500})

	h.Observe(5)    // bucket 0 (<=10)
	h.Observe(25)   // bucket 1 (<=50)
	h.Observe(75)   // bucket 2 (<=100)
	h.Observe(200)  // bucket 3 (<=500)
	h.Observe(1000) // bucket 4 (overflow)

	if h.Count() != 5 {
		t.Errorf("expected count 5, got %d", h.Count())
	}

	expectedMean := (5.0 + 25 + 75 + 200 + 1000) / 5
	if h.Mean() != expectedMean {
		t.Errorf("expected mean %.2f, got %.2f", expectedMean, h.Mean())
	}
}

func TestHistogramSummary(t *testing.T) {
	h := NewHistogram(ErrorRateBuckets[:3]) // 0.01, 0.02, 0.05

	h.Observe(0.005)
	h.Observe(0.015)
	h.Observe(0.03)
	h.Observe(0.25)

	summary := h.Summary()

	if summary.Count != 4 {
		t.Errorf("expected count 4, got %d", summary.Count)
	}
	if summary.Min != 0.005 {
		t.Errorf("expected min 0.005, got %f", summary.Min)
	}
	if summary.Max != 0.25 {
		t.Errorf("expected max 0.25, got %f", summary.Max)
	}

	// Buckets are cumulative, last is +Inf.
	if len(summary.Buckets) != 4 {
		t.Fatalf("expected 4 buckets, got %d", len(summary.Buckets))
	}
	wantCounts := []uint64{1, 2, 3, 4}
	for i, want := range wantCounts {
		if summary.Buckets[i].Count != want {
			t.Errorf("expected bucket[%d] count %d, got %d", i, want, summary.Buckets[i].Count)
		}
	}
}

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram([]float64{10, 50, 100})

	if h.Count() != 0 {
		t.Errorf("expected count 0, got %d", h.Count())
	}
	if h.Mean() != 0 {
		t.Errorf("expected mean 0, got %.2f", h.Mean())
	}

	summary := h.Summary()
	if summary.Count != 0 {
		t.Errorf("expected summary count 0, got %d", summary.Count)
	}
}

func TestHistogramReset(t *testing.T) {
	h := NewHistogram([]float64{10, 50, 100})

	h.Observe(25)
	h.Observe(75)
	if h.Count() != 2 {
		t.Fatal("observations not recorded")
	}

	h.Reset()

	if h.Count() != 0 {
		t.Errorf("expected count 0 after reset, got %d", h.Count())
	}
	if summary := h.Summary(); summary.Count != 0 {
		t.Errorf("expected summary count 0 after reset, got %d", summary.Count)
	}
}

func TestHistogramPercentiles(t *testing.T) {
	h := NewHistogram([]float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100})

	// 100 values evenly distributed
	for i := 1; i <= 100; i++ {
		h.Observe(float64(i))
	}

	summary := h.Summary()

	if p50, ok := summary.Percentiles[0.5]; ok {
		if math.Abs(p50-50) > 15 {
			t.Errorf("p50 should be around 50, got %.2f", p50)
		}
	}
	if p90, ok := summary.Percentiles[0.9]; ok {
		if math.Abs(p90-90) > 15 {
			t.Errorf("p90 should be around 90, got %.2f", p90)
		}
	}
}

func TestHistogramConcurrency(t *testing.T) {
	h := NewHistogram([]float64{10, 50, 100, 500, 1000})

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				h.Observe(float64(j))
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if h.Count() != 1000 {
		t.Errorf("expected count 1000, got %d", h.Count())
	}
}

func TestHistogramUnsortedBuckets(t *testing.T) {
	// Bounds are sorted internally.
	h := NewHistogram([]float64{100, 10, 50})

	h.Observe(5)
	h.Observe(75)

	summary := h.Summary()
	if summary.Buckets[0].UpperBound != 10 {
		t.Errorf("expected first bucket bound 10, got %.2f", summary.Buckets[0].UpperBound)
	}
	if summary.Buckets[1].UpperBound != 50 {
		t.Errorf("expected second bucket bound 50, got %.2f", summary.Buckets[1].UpperBound)
	}
}
