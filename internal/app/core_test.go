package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"velgo-hub/client-core/internal/backend/identity"
	"velgo-hub/client-core/internal/backend/payments"
	"velgo-hub/client-core/internal/backend/realtime"
	"velgo-hub/client-core/internal/config"
	"velgo-hub/client-core/pkg/models"
)

type fakeIdentity struct {
	mu         sync.Mutex
	session    *models.Session
	sessionErr error
	signOuts   int
	passwords  []string
	events     chan identity.Event
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{events: make(chan identity.Event, 8)}
}

func (f *fakeIdentity) CurrentSession(context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.sessionErr
}

func (f *fakeIdentity) SignIn(_ context.Context, email, password string) error {
	return nil
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	f.events <- identity.Event{Type: identity.EventSignedOut}
	return nil
}

func (f *fakeIdentity) UpdatePassword(_ context.Context, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords = append(f.passwords, newPassword)
	return nil
}

func (f *fakeIdentity) VerifyRecovery(_ context.Context, token string) error {
	f.events <- identity.Event{Type: identity.EventPasswordRecovery, Session: testSession("recovery-user")}
	return nil
}

func (f *fakeIdentity) Events() <-chan identity.Event { return f.events }

type fakeProfiles struct {
	mu       sync.Mutex
	attempts int
	fetch    func(attempt int) (*models.Profile, error)
	updates  []map[string]any
}

func (f *fakeProfiles) FetchProfile(_ context.Context, _, userID string) (*models.Profile, error) {
	f.mu.Lock()
	f.attempts++
	n := f.attempts
	fn := f.fetch
	f.mu.Unlock()
	if fn == nil {
		return testProfile(userID), nil
	}
	return fn(n)
}

func (f *fakeProfiles) UpdateProfile(_ context.Context, _, _ string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, patch)
	return nil
}

func (f *fakeProfiles) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type fakeBlobs struct {
	mu      sync.Mutex
	err     error
	uploads []string
}

func (b *fakeBlobs) UploadObject(_ context.Context, _, bucket, objectPath, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.uploads = append(b.uploads, bucket+"/"+objectPath)
	return "https://cdn.example.com/" + bucket + "/" + objectPath, nil
}

type fakeListener struct {
	mu     sync.Mutex
	closed bool
}

func (l *fakeListener) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *fakeListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeFeed struct {
	mu        sync.Mutex
	handler   func(realtime.ChangeEvent)
	subs      [][]realtime.Subscription
	tokens    []string
	listeners []*fakeListener
}

func (f *fakeFeed) Subscribe(_ context.Context, accessToken string, subs []realtime.Subscription, handler func(realtime.ChangeEvent)) (FeedListener, error) {
	listener := &fakeListener{}
	f.mu.Lock()
	f.subs = append(f.subs, subs)
	f.tokens = append(f.tokens, accessToken)
	f.listeners = append(f.listeners, listener)
	f.handler = handler
	f.mu.Unlock()
	return listener, nil
}

func (f *fakeFeed) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) == 0 {
		return ""
	}
	return f.tokens[len(f.tokens)-1]
}

func (f *fakeFeed) push(t *testing.T, ev realtime.ChangeEvent) {
	t.Helper()
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		t.Fatal("push before subscribe")
	}
	handler(ev)
}

func (f *fakeFeed) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeDevice struct {
	mu     sync.Mutex
	shown  bool
	marked int
}

func (d *fakeDevice) GuideShown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown
}

func (d *fakeDevice) MarkGuideShown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = true
	d.marked++
	return nil
}

func testSession(userID string) *models.Session {
	return &models.Session{
		UserID:      userID,
		Email:       userID + "@example.com",
		ExpiresAt:   time.Now().Add(time.Hour),
		AccessToken: "token-" + userID,
	}
}

func testProfile(userID string) *models.Profile {
	return &models.Profile{
		ID:          userID,
		Role:        models.RoleClient,
		DisplayName: "Test User",
		CreatedAt:   time.Now().Add(-time.Hour),
	}
}

type testEnv struct {
	core     *Core
	identity *fakeIdentity
	profiles *fakeProfiles
	blobs    *fakeBlobs
	feed     *fakeFeed
	device   *fakeDevice
}

func newTestCore(t *testing.T, mods ...func(*Options)) *testEnv {
	t.Helper()

	env := &testEnv{
		identity: newFakeIdentity(),
		profiles: &fakeProfiles{},
		blobs:    &fakeBlobs{},
		feed:     &fakeFeed{},
		device:   &fakeDevice{shown: true},
	}
	opts := Options{
		Reconcile: config.Reconcile{
			BackoffStep:   2 * time.Millisecond,
			SignInRetries: 3,
			ManualRetries: 5,
		},
		ToastTTL: 500 * time.Millisecond,
		Identity: env.identity,
		Profiles: env.profiles,
		Blobs:    env.blobs,
		Feed:     env.feed,
		Device:   env.device,
		Payments: payments.NewCoordinator(time.Minute),
		Logger:   slog.New(slog.NewTextHandler(new(strings.Builder), nil)),
	}
	for _, mod := range mods {
		mod(&opts)
	}

	core, err := New(opts)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	if err := core.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := core.Stop(ctx); err != nil {
			t.Errorf("stop: %v", err)
		}
	})
	env.core = core
	return env
}

func waitState(t *testing.T, c *Core, desc string, ok func(models.UIState) bool) models.UIState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		state := c.UIState()
		if ok(state) {
			return state
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; state: %+v", desc, state)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitCond(t *testing.T, desc string, ok func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ok() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartupRestoresPersistedSession(t *testing.T) {
	t.Parallel()

	env := newTestCore(t, func(o *Options) {
		o.Identity.(*fakeIdentity).session = testSession("user-1")
	})

	state := waitState(t, env.core, "restored session with profile", func(s models.UIState) bool {
		return !s.Loading && s.Session != nil && s.Profile != nil
	})
	if state.View != models.ScreenHome {
		t.Fatalf("view = %q, want home", state.View)
	}
	if state.Session.UserID != "user-1" {
		t.Fatalf("session user = %q", state.Session.UserID)
	}
}

func TestStartupProbeFailureStaysQuiet(t *testing.T) {
	t.Parallel()

	env := newTestCore(t, func(o *Options) {
		o.Identity.(*fakeIdentity).sessionErr = errors.New("dial tcp: connection refused")
	})

	state := waitState(t, env.core, "probe settled", func(s models.UIState) bool {
		return !s.Loading
	})
	if state.SystemError != "" {
		t.Fatalf("probe failure surfaced a hard error: %q", state.SystemError)
	}
	if state.View != models.ScreenLanding {
		t.Fatalf("view = %q, want landing", state.View)
	}
	if state.Session != nil {
		t.Fatal("session set despite probe failure")
	}
}

func TestSignedInRedirectsOnlyFromPreAuthScreens(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	waitState(t, env.core, "probe settled", func(s models.UIState) bool { return !s.Loading })

	// From a pre-auth screen the redirect applies.
	if err := env.core.Navigate(models.ScreenLogin, ""); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-1")}
	waitState(t, env.core, "redirect to home", func(s models.UIState) bool {
		return s.View == models.ScreenHome && s.Session != nil
	})

	// An in-app re-authentication must not bounce the user off settings.
	if err := env.core.Navigate(models.ScreenSettings, ""); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	waitState(t, env.core, "settings applied", func(s models.UIState) bool {
		return s.View == models.ScreenSettings
	})
	env.identity.events <- identity.Event{Type: identity.EventTokenRefreshed, Session: testSession("user-1")}
	time.Sleep(20 * time.Millisecond)
	if state := env.core.UIState(); state.View != models.ScreenSettings {
		t.Fatalf("view = %q after refresh, want settings", state.View)
	}
}

func TestPasswordRecoveryInterruptsAndSurvivesSignOut(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	waitState(t, env.core, "probe settled", func(s models.UIState) bool { return !s.Loading })

	if err := env.core.Navigate(models.ScreenHome, ""); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	env.identity.events <- identity.Event{Type: identity.EventPasswordRecovery, Session: testSession("user-1")}
	waitState(t, env.core, "recovery screen", func(s models.UIState) bool {
		return s.View == models.ScreenResetPassword
	})

	// A concurrent sign-out must not clobber the recovery flow.
	env.identity.events <- identity.Event{Type: identity.EventSignedOut}
	time.Sleep(20 * time.Millisecond)
	state := env.core.UIState()
	if state.View != models.ScreenResetPassword {
		t.Fatalf("view = %q, recovery screen clobbered", state.View)
	}
	if state.Session != nil {
		t.Fatal("session survived sign-out")
	}
}

func TestSignOutClearsStateAndLandsOnLanding(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-1")}
	waitState(t, env.core, "profile loaded", func(s models.UIState) bool {
		return s.Profile != nil
	})

	env.identity.events <- identity.Event{Type: identity.EventSignedOut}
	state := waitState(t, env.core, "signed out", func(s models.UIState) bool {
		return s.Session == nil && s.View == models.ScreenLanding
	})
	if state.Profile != nil || state.ProfileError || state.SystemError != "" {
		t.Fatalf("stale state after sign-out: %+v", state)
	}
}

func TestUpdatePasswordFinishesRecovery(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	env.identity.events <- identity.Event{Type: identity.EventPasswordRecovery, Session: testSession("user-1")}
	waitState(t, env.core, "recovery screen", func(s models.UIState) bool {
		return s.View == models.ScreenResetPassword
	})

	if err := env.core.UpdatePassword(context.Background(), "short"); err == nil {
		t.Fatal("short password accepted")
	}
	if err := env.core.UpdatePassword(context.Background(), "long-enough"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	waitState(t, env.core, "back on login", func(s models.UIState) bool {
		return s.View == models.ScreenLogin
	})

	env.identity.mu.Lock()
	got := len(env.identity.passwords)
	env.identity.mu.Unlock()
	if got != 1 {
		t.Fatalf("password updates = %d, want 1", got)
	}
}

func TestAbandonedRecoveryDoesNotPinThePhase(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	env.identity.events <- identity.Event{Type: identity.EventPasswordRecovery, Session: testSession("user-1")}
	waitState(t, env.core, "recovery screen", func(s models.UIState) bool {
		return s.View == models.ScreenResetPassword
	})

	// Walking away from the reset screen abandons the recovery flow.
	if err := env.core.Navigate(models.ScreenLanding, ""); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	waitState(t, env.core, "back on landing", func(s models.UIState) bool {
		return s.View == models.ScreenLanding
	})

	env.identity.events <- identity.Event{Type: identity.EventSignedIn, Session: testSession("user-2")}
	waitState(t, env.core, "signed in", func(s models.UIState) bool {
		return s.Session != nil && s.Session.UserID == "user-2"
	})
	if got := corePhase(env.core); got != phaseAuthenticated {
		t.Fatalf("phase = %v after a normal sign-in, want authenticated", got)
	}
}

// corePhase reads the loop-owned phase through the event loop itself.
func corePhase(c *Core) phase {
	ch := make(chan phase, 1)
	c.post(func() { ch <- c.phase })
	return <-ch
}

func TestNavigateValidatesScreenAndPairsPayload(t *testing.T) {
	t.Parallel()

	env := newTestCore(t)
	if err := env.core.Navigate(models.Screen("garbage"), ""); err == nil {
		t.Fatal("invalid screen accepted")
	}
	if err := env.core.Navigate(models.ScreenChat, "partner-9"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	state := waitState(t, env.core, "chat applied", func(s models.UIState) bool {
		return s.View == models.ScreenChat
	})
	if state.ViewData != "partner-9" {
		t.Fatalf("payload = %q, not applied with its screen", state.ViewData)
	}
}
