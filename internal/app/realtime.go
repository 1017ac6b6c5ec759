package app

import (
	"velgo-hub/client-core/internal/backend/realtime"
	"velgo-hub/client-core/pkg/models"
)

// startListener (re)attaches the change feed for userID. The previous
// listener is closed synchronously first so notifications can never be
// delivered for a previously signed-in user.
func (c *Core) startListener(userID, accessToken string) {
	if c.opts.Feed == nil {
		return
	}
	if c.listener != nil && c.listenerUser == userID {
		return
	}
	c.teardownListener()

	subs := []realtime.Subscription{
		{Table: "messages", Event: realtime.EventInsert, FilterColumn: "receiver_id", FilterValue: userID},
		{Table: "bookings", Event: realtime.EventInsert, FilterColumn: "worker_id", FilterValue: userID},
		{Table: "bookings", Event: realtime.EventUpdate, FilterColumn: "client_id", FilterValue: userID},
	}

	// The dial retries, so it runs off-loop; the attach transition discards
	// the listener if the session changed while dialing.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		listener, err := c.opts.Feed.Subscribe(c.runCtx, accessToken, subs, func(ev realtime.ChangeEvent) {
			c.postEvent(func() { c.applyChangeEvent(userID, ev) })
		})
		if err != nil {
			c.opts.Logger.Warn("change feed subscribe failed", "error", err.Error())
			return
		}
		c.post(func() { c.attachListener(userID, listener) })
	}()
}

func (c *Core) attachListener(userID string, listener FeedListener) {
	if c.sessionUserID() != userID {
		listener.Close()
		return
	}
	if c.listener != nil {
		c.listener.Close()
	}
	c.listener = listener
	c.listenerUser = userID
}

func (c *Core) teardownListener() {
	if c.listener == nil {
		return
	}
	c.listener.Close()
	c.listener = nil
	c.listenerUser = ""
}

func (c *Core) applyChangeEvent(userID string, ev realtime.ChangeEvent) {
	if c.sessionUserID() != userID {
		return
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.RealtimeEvents.WithLabelValues(ev.Table).Inc()
	}

	switch {
	case ev.Table == "messages" && ev.Type == realtime.EventInsert:
		sender, _ := ev.Record["sender_id"].(string)
		// Suppress only when that exact conversation is open. The screen is
		// read from live state, never from a value captured at subscribe
		// time, so a just-applied navigation is always respected.
		state := c.UIState()
		if state.View == models.ScreenChat && state.ViewData == sender {
			return
		}
		c.raiseToast("New Message Received", models.ToastInfo)

	case ev.Table == "bookings" && ev.Type == realtime.EventInsert:
		c.raiseToast("New Job Request!", models.ToastSuccess)

	case ev.Table == "bookings" && ev.Type == realtime.EventUpdate:
		if status, _ := ev.Record["status"].(string); status == "accepted" {
			c.raiseToast("Worker Accepted Your Job!", models.ToastSuccess)
		}
	}
}
