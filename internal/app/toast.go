package app

import (
	"time"

	"github.com/google/uuid"

	"velgo-hub/client-core/pkg/models"
)

// raiseToast replaces whatever toast is visible and arms its self-dismiss
// timer. The generation counter keeps an old timer from clearing a newer
// toast. Loop goroutine only.
func (c *Core) raiseToast(message string, severity models.ToastSeverity) {
	c.toastGen++
	gen := c.toastGen

	toast := &models.Toast{
		ID:       uuid.NewString(),
		Message:  message,
		Severity: severity,
		RaisedAt: time.Now(),
	}
	c.mutate(func(s *models.UIState) {
		s.Toast = toast
	})
	if c.opts.Metrics != nil {
		c.opts.Metrics.ToastsRaised.Inc()
	}
	if c.opts.Notify != nil {
		c.opts.Notify("notify.toast", *toast)
	}

	time.AfterFunc(c.opts.ToastTTL, func() {
		c.post(func() { c.expireToast(gen) })
	})
}

func (c *Core) expireToast(gen int) {
	if gen != c.toastGen {
		return
	}
	c.mutate(func(s *models.UIState) {
		s.Toast = nil
	})
}

// DismissToast clears the visible toast. An empty id clears unconditionally;
// otherwise the id must match, so a dismissal racing a replacement cannot
// swallow the newer toast.
func (c *Core) DismissToast(id string) {
	c.post(func() {
		c.stateMu.Lock()
		current := c.state.Toast
		c.stateMu.Unlock()
		if current == nil {
			return
		}
		if id != "" && current.ID != id {
			return
		}
		c.mutate(func(s *models.UIState) {
			s.Toast = nil
		})
	})
}
