package app

import (
	"errors"
	"testing"
	"time"

	"velgo-hub/client-core/internal/backend/identity"
	"velgo-hub/client-core/internal/contracts"
	"velgo-hub/client-core/pkg/models"
)

func TestReconcileSucceedsWithinBudget(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	env.profiles.fetch = func(attempt int) (*models.Profile, error) {
		if attempt < 3 {
			return nil, contracts.ErrNoRecord
		}
		return testProfile("user-1"), nil
	}

	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-1")}
	state := waitState(t, env.core, "profile populated", func(s models.UIState) bool {
		return s.Profile != nil
	})
	if state.ProfileError {
		t.Fatal("profileError set after eventual success")
	}
	if got := env.profiles.attemptCount(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestReconcileExhaustionMarksGhostUser(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	env.profiles.fetch = func(int) (*models.Profile, error) {
		return nil, contracts.ErrNoRecord
	}

	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-1")}
	state := waitState(t, env.core, "ghost user", func(s models.UIState) bool {
		return s.ProfileError
	})
	if state.Profile != nil {
		t.Fatalf("profile populated for ghost user: %+v", state.Profile)
	}
	if state.SystemError != "" {
		t.Fatalf("ghost user escalated to system error: %q", state.SystemError)
	}
	if got := env.profiles.attemptCount(); got != 3 {
		t.Fatalf("attempts = %d, want exactly the sign-in budget", got)
	}
}

func TestPolicyFaultHaltsRetriesImmediately(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	env.profiles.fetch = func(int) (*models.Profile, error) {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryPolicy,
			errors.New("infinite recursion detected in policy for relation profiles"))
	}

	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-1")}
	state := waitState(t, env.core, "system error", func(s models.UIState) bool {
		return s.SystemError != ""
	})
	if state.ProfileError {
		t.Fatal("policy fault misclassified as ghost user")
	}
	if got := env.profiles.attemptCount(); got != 1 {
		t.Fatalf("attempts = %d, policy fault must not be retried", got)
	}
}

func TestRetryProfileUsesManualBudget(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	env.profiles.fetch = func(int) (*models.Profile, error) {
		return nil, contracts.ErrNoRecord
	}

	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-1")}
	waitState(t, env.core, "ghost user", func(s models.UIState) bool {
		return s.ProfileError
	})

	env.core.RetryProfile()
	waitCond(t, "manual budget consumed", func() bool {
		return env.profiles.attemptCount() == 3+5
	})
	waitState(t, env.core, "still ghost after manual retry", func(s models.UIState) bool {
		return s.ProfileError
	})
}

func TestRapidReconcilesConvergeToSingleRecord(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-1")}
	waitState(t, env.core, "profile loaded", func(s models.UIState) bool {
		return s.Profile != nil
	})

	// Two overlapping reconciliations for the same user: writes are
	// idempotent overwrites, so the cache holds one consistent record.
	env.core.RetryProfile()
	env.core.RetryProfile()
	time.Sleep(30 * time.Millisecond)

	state := waitState(t, env.core, "converged", func(s models.UIState) bool {
		return s.Profile != nil && !s.ProfileError
	})
	if state.Profile.ID != "user-1" {
		t.Fatalf("profile id = %q", state.Profile.ID)
	}
}

func TestStaleReconcileOutcomeDiscardedAfterSignOut(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	release := make(chan struct{})
	env.profiles.fetch = func(int) (*models.Profile, error) {
		<-release
		return testProfile("user-1"), nil
	}

	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-1")}
	waitState(t, env.core, "session applied", func(s models.UIState) bool {
		return s.Session != nil
	})

	env.identity.events <- identity.Event{Type: identity.EventSignedOut}
	waitState(t, env.core, "signed out", func(s models.UIState) bool {
		return s.Session == nil
	})
	close(release)

	time.Sleep(30 * time.Millisecond)
	if state := env.core.UIState(); state.Profile != nil {
		t.Fatalf("stale fetch applied after sign-out: %+v", state.Profile)
	}
}

func TestFirstRunGuidanceAtMostOncePerDevice(t *testing.T) {
	t.Parallel()

	env := newTestCore(t, func(o *Options) {
		o.Device.(*fakeDevice).shown = false
	})
	env.profiles.fetch = func(int) (*models.Profile, error) {
		fresh := testProfile("user-1")
		fresh.CreatedAt = time.Now().Add(-time.Minute)
		return fresh, nil
	}

	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-1")}
	waitState(t, env.core, "guide visible", func(s models.UIState) bool {
		return s.GuideVisible
	})

	env.core.DismissGuide()
	waitState(t, env.core, "guide dismissed", func(s models.UIState) bool {
		return !s.GuideVisible
	})

	// A later sign-in of another fresh account must not replay the guide on
	// the same device.
	env.identity.events <- identity.Event{Type: identity.EventSignedOut}
	waitState(t, env.core, "signed out", func(s models.UIState) bool { return s.Session == nil })
	env.profiles.fetch = func(int) (*models.Profile, error) {
		fresh := testProfile("user-2")
		fresh.CreatedAt = time.Now()
		return fresh, nil
	}
	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-2")}
	waitState(t, env.core, "second profile", func(s models.UIState) bool {
		return s.Profile != nil && s.Profile.ID == "user-2"
	})
	if env.core.UIState().GuideVisible {
		t.Fatal("guide replayed for a second account on the same device")
	}

	env.device.mu.Lock()
	marked := env.device.marked
	env.device.mu.Unlock()
	if marked != 1 {
		t.Fatalf("guide marker persisted %d times, want 1", marked)
	}
}

func TestOldAccountDoesNotTriggerGuidance(t *testing.T) {
	t.Parallel()

	env := newTestCore(t, func(o *Options) {
		o.Device.(*fakeDevice).shown = false
	})

	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-1")}
	waitState(t, env.core, "profile loaded", func(s models.UIState) bool {
		return s.Profile != nil
	})
	if env.core.UIState().GuideVisible {
		t.Fatal("guide shown for an account older than the first-run window")
	}
}
