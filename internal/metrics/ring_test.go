package metrics

import (
	"sync"
	"testing"
)

func TestSampleRingEmpty(t *testing.T) {
	sr := NewSampleRing(4)
	if sr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", sr.Len())
	}
	if sr.Samples() != nil {
		t.Error("Samples() on empty ring should be nil")
	}
}

func TestSampleRingPartialFill(t *testing.T) {
	sr := NewSampleRing(4)
	sr.Add(Sample{Value: 1})
	sr.Add(Sample{Value: 2})

	got := sr.Samples()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Value != 1 || got[1].Value != 2 {
		t.Errorf("order = [%v %v], want [1 2]", got[0].Value, got[1].Value)
	}
}

func TestSampleRingWrapAround(t *testing.T) {
	sr := NewSampleRing(3)
	for i := 1; i <= 7; i++ {
		sr.Add(Sample{Value: float64(i)})
	}

	if sr.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", sr.Len())
	}
	got := sr.Samples()
	for i, want := range []float64{5, 6, 7} {
		if got[i].Value != want {
			t.Errorf("got[%d] = %v, want %v", i, got[i].Value, want)
		}
	}
}

func TestSampleRingMinimumCapacity(t *testing.T) {
	sr := NewSampleRing(0)
	sr.Add(Sample{Value: 1})
	sr.Add(Sample{Value: 2})
	got := sr.Samples()
	if len(got) != 1 || got[0].Value != 2 {
		t.Errorf("zero-capacity ring should clamp to 1 and keep newest, got %v", got)
	}
}

func TestSampleRingConcurrentAdd(t *testing.T) {
	sr := NewSampleRing(128)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				sr.Add(Sample{Value: float64(i)})
			}
		}()
	}
	wg.Wait()

	if sr.Len() != 128 {
		t.Errorf("Len() = %d, want 128 after overfill", sr.Len())
	}
}
