package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"velgo-hub/client-core/internal/backend/identity"
	"velgo-hub/client-core/pkg/models"
)

// probeInitialSession asks the identity provider for a persisted session.
// A network failure here is deliberately quiet: the user can still sign in
// manually, so no error flag is raised.
func (c *Core) probeInitialSession() {
	defer c.wg.Done()

	session, err := c.opts.Identity.CurrentSession(c.runCtx)
	c.post(func() {
		c.mutate(func(s *models.UIState) {
			s.Loading = false
			if err != nil {
				c.opts.Logger.Warn("session probe failed", "error", err.Error())
				c.phase = phaseAnonymous
				return
			}
			if !session.Live(time.Now()) {
				c.phase = phaseAnonymous
				return
			}
			c.phase = phaseAuthenticated
			s.Session = session
			if s.View.PreAuth() {
				setView(s, models.ScreenHome, "")
			}
		})
		if session.Live(time.Now()) {
			c.countAuthTransition("restored")
			c.startReconcile(session.UserID, session.AccessToken, c.opts.Reconcile.SignInRetries)
			c.startListener(session.UserID, session.AccessToken)
		}
	})
}

func (c *Core) pumpAuthEvents() {
	defer c.wg.Done()
	events := c.opts.Identity.Events()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.post(func() { c.applyAuthEvent(ev) })
		}
	}
}

func (c *Core) applyAuthEvent(ev identity.Event) {
	c.countAuthTransition(string(ev.Type))

	switch ev.Type {
	case identity.EventPasswordRecovery:
		// Always wins: the user explicitly followed an out-of-band link.
		c.phase = phaseRecovering
		c.mutate(func(s *models.UIState) {
			s.Session = ev.Session
			setView(s, models.ScreenResetPassword, "")
		})

	case identity.EventSignedIn, identity.EventTokenRefreshed:
		if ev.Session == nil {
			return
		}
		if c.phase != phaseRecovering {
			c.phase = phaseAuthenticated
		}
		c.mutate(func(s *models.UIState) {
			s.Session = ev.Session
			// Redirect only off pre-auth screens. An in-app
			// re-authentication must not bounce the user home.
			if s.View.PreAuth() {
				setView(s, models.ScreenHome, "")
			}
		})
		c.startReconcile(ev.Session.UserID, ev.Session.AccessToken, c.opts.Reconcile.SignInRetries)
		c.startListener(ev.Session.UserID, ev.Session.AccessToken)

	case identity.EventSignedOut:
		c.teardownListener()
		c.mutate(func(s *models.UIState) {
			s.Session = nil
			s.Profile = nil
			s.ProfileError = false
			s.SystemError = ""
			if s.View != models.ScreenResetPassword {
				c.phase = phaseAnonymous
				setView(s, models.ScreenLanding, "")
			}
		})
	}
}

// SignIn validates locally and delegates to the identity provider; the
// resulting signed-in event drives the state transition.
func (c *Core) SignIn(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}
	return c.opts.Identity.SignIn(ctx, email, password)
}

func (c *Core) SignOut(ctx context.Context) error {
	return c.opts.Identity.SignOut(ctx)
}

// UpdatePassword finishes the recovery flow: on success while the reset
// screen is up, the user is sent to the login screen to re-authenticate.
func (c *Core) UpdatePassword(ctx context.Context, newPassword string) error {
	if len(newPassword) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	if err := c.opts.Identity.UpdatePassword(ctx, newPassword); err != nil {
		return err
	}
	c.post(func() {
		c.mutate(func(s *models.UIState) {
			if s.View != models.ScreenResetPassword {
				return
			}
			if c.phase == phaseRecovering {
				c.phase = phaseAnonymous
			}
			setView(s, models.ScreenLogin, "")
		})
	})
	return nil
}

// RecoveryLink exchanges an emailed recovery token; the provider emits a
// password-recovery event which interrupts whatever screen is active.
func (c *Core) RecoveryLink(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("recovery token is required")
	}
	return c.opts.Identity.VerifyRecovery(ctx, token)
}
