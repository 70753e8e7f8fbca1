package settlement

import (
	"testing"

	"github.com/CurioWorks/commerce_layer/pkg/cache"
)

func testCurve(t *testing.T, cfg CurveConfig) *Curve {
	t.Helper()
	c, err := NewCurve(cfg, nil)
	if err != nil {
		t.Fatalf("NewCurve: %v", err)
	}
	return c
}

func TestPriceGrowthPhase(t *testing.T) {
	c := testCurve(t, CurveConfig{
		BasePrice:        10,
		Multiplier:       2,
		DecayStartBatch:  3,
		DecayEndBatch:    10,
		DecayNumerator:   1,
		DecayDenominator: 10,
	})

	want := []int64{10, 20, 40, 80}
	for batch, w := range want {
		if got := c.Price(int64(batch)); got != w {
			t.Fatalf("Price(%d) = %d, want %d", batch, got, w)
		}
	}
}

func TestPriceNegativeBatchIsFree(t *testing.T) {
	c := testCurve(t, CurveConfig{
		BasePrice:        10,
		Multiplier:       2,
		DecayStartBatch:  3,
		DecayEndBatch:    10,
		DecayNumerator:   1,
		DecayDenominator: 10,
	})
	if got := c.Price(-1); got != 0 {
		t.Fatalf("Price(-1) = %d, want 0", got)
	}
}

func TestPriceDecayPhaseStepwise(t *testing.T) {
	c := testCurve(t, CurveConfig{
		BasePrice:        100,
		Multiplier:       2,
		DecayStartBatch:  2,
		DecayEndBatch:    4,
		DecayNumerator:   1,
		DecayDenominator: 10,
	})

	// Peak is 100*2*2 = 400 at batch 2, then 10% off per batch with integer
	// truncation at every step.
	if got := c.Price(2); got != 400 {
		t.Fatalf("Price(2) = %d, want 400", got)
	}
	if got := c.Price(3); got != 360 {
		t.Fatalf("Price(3) = %d, want 360", got)
	}
	if got := c.Price(4); got != 324 {
		t.Fatalf("Price(4) = %d, want 324", got)
	}
	// Past the decay end the price is flat.
	if got := c.Price(9); got != 324 {
		t.Fatalf("Price(9) = %d, want 324", got)
	}
}

func TestPriceIntegerTruncationCompounds(t *testing.T) {
	c := testCurve(t, CurveConfig{
		BasePrice:        101,
		Multiplier:       1,
		DecayStartBatch:  0,
		DecayEndBatch:    2,
		DecayNumerator:   1,
		DecayDenominator: 2,
	})

	// 101 -> 101-50=51 -> 51-25=26. A closed-form 101/4 would give 25.
	if got := c.Price(2); got != 26 {
		t.Fatalf("Price(2) = %d, want 26", got)
	}
}

func TestTotalSumsConsecutiveBatches(t *testing.T) {
	c := testCurve(t, CurveConfig{
		BasePrice:        10,
		Multiplier:       2,
		DecayStartBatch:  5,
		DecayEndBatch:    10,
		DecayNumerator:   1,
		DecayDenominator: 10,
	})

	if got := c.Total(0, 3); got != 10+20+40 {
		t.Fatalf("Total(0,3) = %d, want 70", got)
	}
	if got := c.Total(2, 1); got != c.Price(2) {
		t.Fatalf("Total(2,1) = %d, want %d", got, c.Price(2))
	}
	if got := c.Total(0, 0); got != 0 {
		t.Fatalf("Total(0,0) = %d, want 0", got)
	}
}

func TestCurveCacheConsistency(t *testing.T) {
	cfg := CurveConfig{
		BasePrice:        10,
		Multiplier:       2,
		DecayStartBatch:  3,
		DecayEndBatch:    10,
		DecayNumerator:   1,
		DecayDenominator: 10,
	}
	cached, err := NewCurve(cfg, cache.New[int64, int64](16, 0))
	if err != nil {
		t.Fatalf("NewCurve: %v", err)
	}
	plain := testCurve(t, cfg)

	for batch := int64(0); batch <= 12; batch++ {
		// Twice, so the second read is a cache hit.
		for i := 0; i < 2; i++ {
			if got, want := cached.Price(batch), plain.Price(batch); got != want {
				t.Fatalf("cached Price(%d) = %d, want %d", batch, got, want)
			}
		}
	}
}

func TestCurveConfigValidate(t *testing.T) {
	base := CurveConfig{
		BasePrice:        10,
		Multiplier:       2,
		DecayStartBatch:  3,
		DecayEndBatch:    10,
		DecayNumerator:   1,
		DecayDenominator: 10,
	}

	bad := base
	bad.BasePrice = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero base price")
	}

	bad = base
	bad.DecayEndBatch = 1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for decay end before start")
	}

	bad = base
	bad.DecayNumerator = 10
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for decay fraction >= 1")
	}
}
