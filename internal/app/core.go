package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"velgo-hub/client-core/internal/backend/identity"
	"velgo-hub/client-core/internal/backend/payments"
	"velgo-hub/client-core/internal/backend/realtime"
	"velgo-hub/client-core/internal/config"
	"velgo-hub/client-core/internal/platform/metrics"
	"velgo-hub/client-core/pkg/models"
)

type phase int

const (
	phaseInitializing phase = iota
	phaseAnonymous
	phaseAuthenticated
	phaseRecovering
)

const updateTimeout = 10 * time.Second

// IdentityGateway is the slice of the identity provider the core consumes.
type IdentityGateway interface {
	CurrentSession(ctx context.Context) (*models.Session, error)
	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	UpdatePassword(ctx context.Context, newPassword string) error
	VerifyRecovery(ctx context.Context, token string) error
	Events() <-chan identity.Event
}

type ProfileStore interface {
	FetchProfile(ctx context.Context, accessToken, userID string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, accessToken, userID string, patch map[string]any) error
}

// BlobStore uploads profile media and hands back a public URL.
type BlobStore interface {
	UploadObject(ctx context.Context, accessToken, bucket, objectPath, contentType string, data []byte) (string, error)
}

type FeedListener interface {
	Close()
}

type ChangeFeed interface {
	Subscribe(ctx context.Context, accessToken string, subs []realtime.Subscription, handler func(realtime.ChangeEvent)) (FeedListener, error)
}

type DeviceState interface {
	GuideShown() bool
	MarkGuideShown() error
}

type Options struct {
	Reconcile config.Reconcile
	ToastTTL  time.Duration

	Identity IdentityGateway
	Profiles ProfileStore
	Blobs    BlobStore
	Feed     ChangeFeed
	Device   DeviceState
	Payments *payments.Coordinator

	// Notify publishes a state or toast event to the shell stream. May be nil.
	Notify  func(method string, payload any)
	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

// Core owns the session monitor, profile reconciler, realtime listener and
// navigation cell. Every mutation is a message into a single consumer loop,
// so each transition applies screen and payload together before the next
// event is looked at.
type Core struct {
	opts Options

	runCtx context.Context
	cancel context.CancelFunc
	cmds   chan func()
	wg     sync.WaitGroup

	// Below fields are owned by the loop goroutine. stateMu only guards the
	// snapshot read in UIState.
	stateMu sync.Mutex
	state   models.UIState

	phase        phase
	listener     FeedListener
	listenerUser string
	toastGen     int
}

func New(opts Options) (*Core, error) {
	if opts.Identity == nil || opts.Profiles == nil {
		return nil, errors.New("identity gateway and profile store are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ToastTTL <= 0 {
		opts.ToastTTL = 4 * time.Second
	}
	if opts.Reconcile.BackoffStep <= 0 {
		opts.Reconcile.BackoffStep = 500 * time.Millisecond
	}
	if opts.Reconcile.SignInRetries <= 0 {
		opts.Reconcile.SignInRetries = 3
	}
	if opts.Reconcile.ManualRetries <= 0 {
		opts.Reconcile.ManualRetries = 5
	}
	return &Core{
		opts: opts,
		cmds: make(chan func(), 64),
		state: models.UIState{
			Loading: true,
			View:    models.ScreenLanding,
		},
		phase: phaseInitializing,
	}, nil
}

func (c *Core) Start(ctx context.Context) error {
	if c.runCtx != nil {
		return errors.New("core already started")
	}
	c.runCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	c.wg.Add(1)
	go c.loop()

	c.wg.Add(1)
	go c.pumpAuthEvents()

	c.wg.Add(1)
	go c.probeInitialSession()
	return nil
}

// Stop drains the loop. The realtime listener is closed from inside the loop
// so no handler can observe a half-cleared session.
func (c *Core) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Core) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.runCtx.Done():
			c.teardownListener()
			return
		case fn := <-c.cmds:
			fn()
		}
	}
}

// post queues a transition for the loop. Used by command paths that must not
// lose the message.
func (c *Core) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.runCtx.Done():
	}
}

// postEvent is the non-blocking variant for push-style sources. Dropping
// under backpressure keeps the realtime read goroutine from deadlocking
// against a loop that is synchronously closing it.
func (c *Core) postEvent(fn func()) {
	select {
	case c.cmds <- fn:
	default:
		c.opts.Logger.Warn("event loop saturated, dropping event")
	}
}

// UIState returns a snapshot of the presentation surface.
func (c *Core) UIState() models.UIState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// mutate runs fn against the state under the snapshot lock and publishes the
// result. Only ever called on the loop goroutine.
func (c *Core) mutate(fn func(s *models.UIState)) {
	c.stateMu.Lock()
	fn(&c.state)
	snapshot := c.state
	c.stateMu.Unlock()

	if c.opts.Notify != nil {
		c.opts.Notify("notify.state", snapshot)
	}
}

// setView applies screen and payload as one transition.
func setView(s *models.UIState, screen models.Screen, payload string) {
	s.View = screen
	s.ViewData = payload
}

func (c *Core) countAuthTransition(event string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.AuthTransitions.WithLabelValues(event).Inc()
	}
}
