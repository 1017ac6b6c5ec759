package payments

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"velgo-hub/client-core/pkg/models"
)

// Tier is one subscription plan. Prices are stored in kobo because the
// payment processor takes minor units.
type Tier struct {
	ID        string
	Name      string
	PriceKobo int
}

var tiers = map[string]Tier{
	"basic": {ID: "basic", Name: "Basic", PriceKobo: 0},
	"pro":   {ID: "pro", Name: "Pro", PriceKobo: 150000},
	"elite": {ID: "elite", Name: "Elite", PriceKobo: 500000},
}

// Tiers returns the plan catalog in ascending price order.
func Tiers() []Tier {
	out := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceKobo < out[j].PriceKobo })
	return out
}

func LookupTier(id string) (Tier, bool) {
	t, ok := tiers[id]
	return t, ok
}

// Coordinator hands out checkout references and remembers which tier each
// one was for until the processor calls back with success or close. Stale
// entries are dropped so an abandoned checkout cannot be completed later.
type Coordinator struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	pending map[string]pendingCheckout
}

type pendingCheckout struct {
	tier     string
	openedAt time.Time
}

func NewCoordinator(ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Coordinator{
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]pendingCheckout),
	}
}

// Init opens a checkout for the given tier. Free tiers never reach the
// processor, so asking for one is a caller bug.
func (c *Coordinator) Init(tierID, email string) (models.Checkout, error) {
	tier, ok := tiers[tierID]
	if !ok {
		return models.Checkout{}, fmt.Errorf("unknown subscription tier %q", tierID)
	}
	if tier.PriceKobo == 0 {
		return models.Checkout{}, fmt.Errorf("tier %q does not require checkout", tierID)
	}

	reference := uuid.NewString()
	c.mu.Lock()
	c.evictStaleLocked()
	c.pending[reference] = pendingCheckout{tier: tierID, openedAt: c.now()}
	c.mu.Unlock()

	return models.Checkout{
		Reference:  reference,
		AmountKobo: tier.PriceKobo,
		Email:      email,
		Tier:       tierID,
	}, nil
}

// Complete consumes the reference and returns the tier it paid for.
func (c *Coordinator) Complete(reference string) (string, error) {
	return c.consume(reference)
}

// Close discards the reference without granting anything.
func (c *Coordinator) Close(reference string) error {
	_, err := c.consume(reference)
	return err
}

func (c *Coordinator) consume(reference string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictStaleLocked()
	entry, ok := c.pending[reference]
	if !ok {
		return "", fmt.Errorf("unknown checkout reference %q", reference)
	}
	delete(c.pending, reference)
	return entry.tier, nil
}

func (c *Coordinator) evictStaleLocked() {
	cutoff := c.now().Add(-c.ttl)
	for ref, entry := range c.pending {
		if entry.openedAt.Before(cutoff) {
			delete(c.pending, ref)
		}
	}
}
