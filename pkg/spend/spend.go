// Package spend defines the single constraint interface consulted by both the
// routing engine and the gateway before money is spent, and the in-process
// daily counter that backs the routing side of it.
package spend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/pario-ai/steer/pkg/models"
)

// Verdict is the answer of a Guard for one prospective request.
type Verdict struct {
	CanProceed       bool            `json:"can_proceed"`
	Reason           string          `json:"reason,omitempty"`
	SuggestedActions []models.Action `json:"suggested_actions,omitempty"`
}

// Guard decides whether a request may spend and accounts for what it spent.
type Guard interface {
	Check(ctx context.Context, scope models.RequestScope, estimatedCost float64) (Verdict, error)
	Record(ctx context.Context, scope models.RequestScope, amount float64) error
}

// DailyCounter accumulates spend for the current day. The daily reset is
// driven externally through Reset.
type DailyCounter struct {
	ceiling float64
	bits    atomic.Uint64
}

// NewDailyCounter returns a counter with the given ceiling. A ceiling <= 0
// disables the limit.
func NewDailyCounter(ceiling float64) *DailyCounter {
	return &DailyCounter{ceiling: ceiling}
}

// Add accumulates amount and returns the new total.
func (c *DailyCounter) Add(amount float64) float64 {
	for {
		old := c.bits.Load()
		total := math.Float64frombits(old) + amount
		if c.bits.CompareAndSwap(old, math.Float64bits(total)) {
			return total
		}
	}
}

// Total returns the spend recorded since the last reset.
func (c *DailyCounter) Total() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Ceiling returns the configured limit.
func (c *DailyCounter) Ceiling() float64 { return c.ceiling }

// Exceeded reports whether the total is past the ceiling.
func (c *DailyCounter) Exceeded() bool {
	return c.ceiling > 0 && c.Total() > c.ceiling
}

// Reset zeroes the counter.
func (c *DailyCounter) Reset() {
	c.bits.Store(0)
}

// DailyGuard adapts a DailyCounter to Guard. The counter is process wide, so
// the request scope is ignored.
type DailyGuard struct {
	Counter *DailyCounter
}

// Check refuses once the counter has exceeded its ceiling.
func (g DailyGuard) Check(_ context.Context, _ models.RequestScope, _ float64) (Verdict, error) {
	if g.Counter.Exceeded() {
		return Verdict{
			Reason: fmt.Sprintf("daily budget exhausted: spent %.4f of %.4f",
				g.Counter.Total(), g.Counter.Ceiling()),
			SuggestedActions: []models.Action{models.ActionAutoDowngrade},
		}, nil
	}
	return Verdict{CanProceed: true}, nil
}

// Record adds amount to the counter.
func (g DailyGuard) Record(_ context.Context, _ models.RequestScope, amount float64) error {
	g.Counter.Add(amount)
	return nil
}

// Guards consults several guards as one. Check is the AND of every guard and
// stops at the first error; Record reaches every guard.
type Guards []Guard

// Check returns the first refusal, with suggested actions merged across guards.
func (gs Guards) Check(ctx context.Context, scope models.RequestScope, estimatedCost float64) (Verdict, error) {
	out := Verdict{CanProceed: true}
	for _, g := range gs {
		v, err := g.Check(ctx, scope, estimatedCost)
		if err != nil {
			return Verdict{Reason: err.Error()}, err
		}
		if !v.CanProceed && out.CanProceed {
			out.CanProceed = false
			out.Reason = v.Reason
		}
		out.SuggestedActions = MergeActions(out.SuggestedActions, v.SuggestedActions)
	}
	return out, nil
}

// Record records amount in every guard and joins their errors.
func (gs Guards) Record(ctx context.Context, scope models.RequestScope, amount float64) error {
	var errs []error
	for _, g := range gs {
		if err := g.Record(ctx, scope, amount); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MergeActions appends the actions of add not already in dst, keeping order.
func MergeActions(dst, add []models.Action) []models.Action {
	for _, a := range add {
		dup := false
		for _, d := range dst {
			if d == a {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, a)
		}
	}
	return dst
}

type metadataKey struct{}

// WithMetadata attaches usage metadata for guards that persist spend.
func WithMetadata(ctx context.Context, md map[string]string) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// MetadataFrom returns the metadata attached by WithMetadata.
func MetadataFrom(ctx context.Context) map[string]string {
	md, _ := ctx.Value(metadataKey{}).(map[string]string)
	return md
}
