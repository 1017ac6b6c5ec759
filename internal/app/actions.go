package app

import (
	"context"
	"errors"
	"fmt"

	"velgo-hub/client-core/pkg/models"
)

// Navigate applies a user-initiated screen change through the transition
// loop, so it serializes with auth and realtime transitions and the payload
// always lands together with its screen.
func (c *Core) Navigate(screen models.Screen, payload string) error {
	if !screen.Valid() {
		return fmt.Errorf("unknown screen %q", screen)
	}
	c.post(func() {
		c.mutate(func(s *models.UIState) {
			// Navigating off the reset screen abandons recovery; the phase
			// must settle so a later sign-in is treated normally.
			if c.phase == phaseRecovering && s.View == models.ScreenResetPassword && screen != models.ScreenResetPassword {
				if s.Session != nil {
					c.phase = phaseAuthenticated
				} else {
					c.phase = phaseAnonymous
				}
			}
			setView(s, screen, payload)
		})
	})
	return nil
}

func (c *Core) DismissGuide() {
	c.post(func() {
		c.mutate(func(s *models.UIState) {
			s.GuideVisible = false
		})
	})
}

const avatarBucket = "avatars"

// UpdateAvatar uploads new profile media and points the profile row at its
// public URL. Returns the URL so the shell can render it before the next
// state snapshot.
func (c *Core) UpdateAvatar(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	if c.opts.Blobs == nil {
		return "", errors.New("blob storage is not configured")
	}
	if len(data) == 0 {
		return "", errors.New("avatar payload is empty")
	}
	session := c.currentSession()
	if session == nil {
		return "", errors.New("sign in before updating the avatar")
	}

	objectPath := session.UserID + "/" + filename
	url, err := c.opts.Blobs.UploadObject(ctx, session.AccessToken, avatarBucket, objectPath, contentType, data)
	if err != nil {
		return "", err
	}
	if err := c.opts.Profiles.UpdateProfile(ctx, session.AccessToken, session.UserID, map[string]any{
		"avatar_url": url,
	}); err != nil {
		return "", err
	}

	c.post(func() {
		if c.sessionUserID() != session.UserID {
			return
		}
		c.mutate(func(s *models.UIState) {
			if s.Profile != nil {
				// Snapshots share the profile pointer, so swap in a copy.
				updated := *s.Profile
				updated.AvatarURL = url
				s.Profile = &updated
			}
		})
	})
	return url, nil
}

// InitCheckout opens a payment for a subscription tier. The payer email
// falls back to a synthetic address derived from the user id, matching
// accounts provisioned without one.
func (c *Core) InitCheckout(tier string) (models.Checkout, error) {
	if c.opts.Payments == nil {
		return models.Checkout{}, errors.New("payments are not configured")
	}
	session := c.currentSession()
	if session == nil {
		return models.Checkout{}, errors.New("sign in before starting a checkout")
	}
	email := session.Email
	if email == "" {
		email = session.UserID + "@velgo.ng"
	}
	return c.opts.Payments.Init(tier, email)
}

// CompleteCheckout consumes the processor's success callback: the profile
// row is moved to the paid tier and reconciliation refreshes the local copy.
func (c *Core) CompleteCheckout(reference string) error {
	if c.opts.Payments == nil {
		return errors.New("payments are not configured")
	}
	tier, err := c.opts.Payments.Complete(reference)
	if err != nil {
		return err
	}
	session := c.currentSession()
	if session == nil {
		return errors.New("checkout completed without an active session")
	}

	ctx, cancelUpdate := context.WithTimeout(c.runCtx, updateTimeout)
	defer cancelUpdate()
	if err := c.opts.Profiles.UpdateProfile(ctx, session.AccessToken, session.UserID, map[string]any{
		"subscription_tier": tier,
	}); err != nil {
		return err
	}

	c.post(func() {
		c.raiseToast("Subscription upgraded", models.ToastSuccess)
		c.startReconcile(session.UserID, session.AccessToken, c.opts.Reconcile.ManualRetries)
	})
	return nil
}

// CloseCheckout discards an abandoned checkout reference.
func (c *Core) CloseCheckout(reference string) error {
	if c.opts.Payments == nil {
		return errors.New("payments are not configured")
	}
	return c.opts.Payments.Close(reference)
}
