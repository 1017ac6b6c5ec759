package payments

import (
	"testing"
	"time"
)

func TestInitAndComplete(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Minute)
	checkout, err := c.Init("pro", "user@example.com")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if checkout.Reference == "" {
		t.Fatal("empty reference")
	}
	if checkout.AmountKobo != 150000 {
		t.Fatalf("amount = %d", checkout.AmountKobo)
	}

	tier, err := c.Complete(checkout.Reference)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if tier != "pro" {
		t.Fatalf("tier = %q", tier)
	}

	if _, err := c.Complete(checkout.Reference); err == nil {
		t.Fatal("reference usable twice")
	}
}

func TestCloseDiscardsReference(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Minute)
	checkout, err := c.Init("elite", "user@example.com")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := c.Close(checkout.Reference); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Complete(checkout.Reference); err == nil {
		t.Fatal("closed reference completed")
	}
}

func TestInitRejectsFreeAndUnknownTiers(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Minute)
	if _, err := c.Init("basic", "user@example.com"); err == nil {
		t.Fatal("free tier accepted")
	}
	if _, err := c.Init("platinum", "user@example.com"); err == nil {
		t.Fatal("unknown tier accepted")
	}
}

func TestStaleReferencesEvicted(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	checkout, err := c.Init("pro", "user@example.com")
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := c.Complete(checkout.Reference); err == nil {
		t.Fatal("stale reference completed")
	}
}

func TestTiersSortedByPrice(t *testing.T) {
	t.Parallel()

	all := Tiers()
	if len(all) != 3 {
		t.Fatalf("tier count = %d", len(all))
	}
	if all[0].ID != "basic" || all[len(all)-1].ID != "elite" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if _, ok := LookupTier("pro"); !ok {
		t.Fatal("pro missing")
	}
}
