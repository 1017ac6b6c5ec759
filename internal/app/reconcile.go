package app

import (
	"context"
	"errors"
	"time"

	"velgo-hub/client-core/internal/contracts"
	"velgo-hub/client-core/internal/netretry"
	"velgo-hub/client-core/pkg/models"
)

const guideWindow = 5 * time.Minute

// startReconcile launches a reconciliation attempt for userID with the given
// missing-record budget. Invocations are not cancelled by newer ones; a stale
// outcome for a different user is discarded when applied, and for the same
// user the last write wins.
func (c *Core) startReconcile(userID, accessToken string, budget int) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconcile(c.runCtx, userID, accessToken, budget)
	}()
}

// reconcile fetches the profile row with an explicit linear backoff over the
// missing-record budget. Transient network failures are absorbed by an inner
// bounded retry so they never surface as a hard error; a row that simply is
// not there yet waits backoff step times the attempt number, absorbing the
// provisioning lag after signup.
func (c *Core) reconcile(ctx context.Context, userID, accessToken string, budget int) {
	if budget < 1 {
		budget = 1
	}
	for attempt := 1; attempt <= budget; attempt++ {
		if ctx.Err() != nil {
			return
		}
		c.countReconcileAttempt()

		var profile *models.Profile
		err := netretry.Do(ctx, netretry.DefaultPolicy(), func(ctx context.Context) error {
			fetched, err := c.opts.Profiles.FetchProfile(ctx, accessToken, userID)
			if err != nil {
				if errors.Is(err, contracts.ErrNoRecord) || contracts.IsPolicyFault(err) {
					return netretry.Permanent(err)
				}
				return err
			}
			profile = fetched
			return nil
		})

		switch {
		case err == nil:
			c.countReconcileOutcome("profile")
			c.post(func() { c.applyProfile(userID, profile) })
			return

		case contracts.IsPolicyFault(err):
			// Misconfigured access control. Continuing would mean trusting
			// query results from a broken policy layer.
			c.countReconcileOutcome("policy_fault")
			c.opts.Logger.Error("profile fetch hit a policy fault", "error", err.Error())
			c.post(func() { c.applySystemFault(userID, err) })
			return

		default:
			if attempt == budget {
				c.countReconcileOutcome("ghost")
				c.post(func() { c.applyGhost(userID) })
				return
			}
			if sleepErr := sleepCtx(ctx, c.opts.Reconcile.BackoffStep*time.Duration(attempt)); sleepErr != nil {
				return
			}
		}
	}
}

func (c *Core) applyProfile(userID string, profile *models.Profile) {
	current := c.sessionUserID()
	if current == "" || current != userID {
		return
	}
	showGuide := false
	if c.opts.Device != nil && !profile.CreatedAt.IsZero() &&
		time.Since(profile.CreatedAt) < guideWindow && !c.opts.Device.GuideShown() {
		// Persist the marker before surfacing so a crash cannot replay the
		// guidance. At most once per device, not per account.
		if err := c.opts.Device.MarkGuideShown(); err != nil {
			c.opts.Logger.Warn("guide marker not persisted", "error", err.Error())
		} else {
			showGuide = true
		}
	}
	c.mutate(func(s *models.UIState) {
		s.Profile = profile
		s.ProfileError = false
		s.SystemError = ""
		if showGuide {
			s.GuideVisible = true
		}
	})
}

func (c *Core) applyGhost(userID string) {
	if c.sessionUserID() != userID {
		return
	}
	// Authenticated identity with no profile row: a recoverable state routed
	// to profile completion, not an error dialog.
	c.mutate(func(s *models.UIState) {
		s.Profile = nil
		s.ProfileError = true
	})
}

func (c *Core) applySystemFault(userID string, err error) {
	if c.sessionUserID() != userID {
		return
	}
	c.mutate(func(s *models.UIState) {
		s.SystemError = err.Error()
		s.Loading = false
	})
}

// RetryProfile re-runs reconciliation with the larger manual budget, used
// after profile completion and from the recovery screen's retry action.
func (c *Core) RetryProfile() {
	c.post(func() {
		session := c.currentSession()
		if session == nil {
			return
		}
		c.mutate(func(s *models.UIState) {
			s.SystemError = ""
			s.ProfileError = false
		})
		c.startReconcile(session.UserID, session.AccessToken, c.opts.Reconcile.ManualRetries)
	})
}

func (c *Core) sessionUserID() string {
	if s := c.currentSession(); s != nil {
		return s.UserID
	}
	return ""
}

func (c *Core) currentSession() *models.Session {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state.Session
}

func (c *Core) countReconcileAttempt() {
	if c.opts.Metrics != nil {
		c.opts.Metrics.ReconcileAttempts.Inc()
	}
}

func (c *Core) countReconcileOutcome(outcome string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.ReconcileOutcomes.WithLabelValues(outcome).Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
