package contracts

import (
	"context"
	"time"

	"velgo-hub/client-core/pkg/models"
)

// NotificationEvent is a single entry in the daemon-to-shell event stream.
type NotificationEvent struct {
	Seq       int64     `json:"seq"`
	Method    string    `json:"method"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientService is the surface the RPC adapter exposes to the presentation
// layer. All state reads are snapshots; all mutations funnel into the core
// transition loop.
type ClientService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	UIState() models.UIState
	SubscribeNotifications(fromSeq int64) ([]NotificationEvent, <-chan NotificationEvent, func())

	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	UpdatePassword(ctx context.Context, newPassword string) error
	RecoveryLink(ctx context.Context, token string) error

	RetryProfile()
	UpdateAvatar(ctx context.Context, filename, contentType string, data []byte) (string, error)
	Navigate(screen models.Screen, payload string) error
	DismissToast(id string)
	DismissGuide()

	InitCheckout(tier string) (models.Checkout, error)
	CompleteCheckout(reference string) error
	CloseCheckout(reference string) error

	CacheStatus() (models.CacheStatus, error)
}
