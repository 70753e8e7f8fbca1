package settlement

import (
	"fmt"

	"github.com/CurioWorks/commerce_layer/pkg/cache"
)

// CurveConfig defines the batch pricing curve: a multiplicative growth phase
// through DecayStartBatch, then a stepwise decaying phase through
// DecayEndBatch. Amounts are in the smallest currency unit.
type CurveConfig struct {
	BasePrice       int64
	Multiplier      int64
	DecayStartBatch int64
	DecayEndBatch   int64
	// DecayNumerator/DecayDenominator express the per-batch decay fraction.
	// Each batch past DecayStartBatch is reduced by this fraction of the
	// previous batch's price, accumulated stepwise so integer rounding
	// compounds the same way at every step.
	DecayNumerator   int64
	DecayDenominator int64
}

// Validate checks curve parameters.
func (c CurveConfig) Validate() error {
	if c.BasePrice <= 0 {
		return fmt.Errorf("base price must be positive")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1")
	}
	if c.DecayEndBatch < c.DecayStartBatch {
		return fmt.Errorf("decay end batch precedes decay start batch")
	}
	if c.DecayDenominator <= 0 || c.DecayNumerator < 0 || c.DecayNumerator >= c.DecayDenominator {
		return fmt.Errorf("decay fraction must be in [0, 1)")
	}
	return nil
}

// Curve evaluates batch prices. It is pure: the price derives entirely from
// the batch number. Computed prices are memoized in an explicit bounded
// cache injected at construction.
type Curve struct {
	cfg    CurveConfig
	prices *cache.Cache[int64, int64]
}

// NewCurve builds a curve. The cache may be nil, in which case every call
// recomputes.
func NewCurve(cfg CurveConfig, prices *cache.Cache[int64, int64]) (*Curve, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Curve{cfg: cfg, prices: prices}, nil
}

// Price returns the unit price for a sales batch. Batch -1 is the reserved
// free-mint batch and always prices at 0.
func (c *Curve) Price(batch int64) int64 {
	if batch < 0 {
		return 0
	}
	if c.prices != nil {
		if p, ok := c.prices.Get(batch); ok {
			return p
		}
	}

	growth := batch
	if growth > c.cfg.DecayStartBatch {
		growth = c.cfg.DecayStartBatch
	}
	price := c.cfg.BasePrice
	for i := int64(0); i < growth; i++ {
		price *= c.cfg.Multiplier
	}

	if batch > c.cfg.DecayStartBatch {
		last := batch
		if last > c.cfg.DecayEndBatch {
			last = c.cfg.DecayEndBatch
		}
		// Stepwise accumulation, not a closed-form multiply: each step
		// rounds down before the next is applied.
		for i := c.cfg.DecayStartBatch + 1; i <= last; i++ {
			price -= price * c.cfg.DecayNumerator / c.cfg.DecayDenominator
		}
	}

	if c.prices != nil {
		c.prices.Set(batch, price)
	}
	return price
}

// Total sums the prices of qty consecutive batches starting at batch: the
// first unit sells at Price(batch), the next at Price(batch+1), and so on.
func (c *Curve) Total(batch, qty int64) int64 {
	var total int64
	for i := int64(0); i < qty; i++ {
		total += c.Price(batch + i)
	}
	return total
}
