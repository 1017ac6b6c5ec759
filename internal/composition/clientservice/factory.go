package clientservice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"velgo-hub/client-core/internal/app"
	"velgo-hub/client-core/internal/backend/datastore"
	"velgo-hub/client-core/internal/backend/identity"
	"velgo-hub/client-core/internal/backend/payments"
	"velgo-hub/client-core/internal/backend/realtime"
	"velgo-hub/client-core/internal/config"
	"velgo-hub/client-core/internal/contracts"
	"velgo-hub/client-core/internal/devicestate"
	"velgo-hub/client-core/internal/offlinecache"
	"velgo-hub/client-core/internal/platform/metrics"
	"velgo-hub/client-core/internal/platform/runtime"
	"velgo-hub/client-core/pkg/models"
)

const notificationBacklog = 256

// Service wires the core loop, backend clients, offline cache and the
// notification hub into the surface the RPC adapter serves.
type Service struct {
	core    *app.Core
	hub     *runtime.NotificationHub
	cache   *offlinecache.Transport
	collect *metrics.Collectors

	identity *identity.Client
	warmup   []string
	logger   *slog.Logger

	refreshCancel context.CancelFunc
}

// Build constructs the full dependency graph from configuration. Nothing
// talks to the network until Start.
func Build(cfg config.Config, logger *slog.Logger) (*Service, error) {
	if cfg.Backend.URL == "" {
		return nil, errors.New("backend URL is not configured")
	}
	if logger == nil {
		logger = runtime.DefaultLogger()
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}

	secret, err := StoragePassphrase(dataDir)
	if err != nil {
		return nil, err
	}

	backendURL, err := url.Parse(cfg.Backend.URL)
	if err != nil {
		return nil, err
	}

	collect := metrics.New()

	cache, err := offlinecache.New(offlinecache.Options{
		Dir:              filepath.Join(dataDir, "cache"),
		StaticPartition:  cfg.Cache.StaticPartition,
		DynamicPartition: cfg.Cache.DynamicPartition,
		DynamicHost:      backendURL.Host,
		AuthPathPrefix:   "/auth/v1",
		ShellURL:         cfg.Backend.URL + cfg.Cache.ShellURL,
		Metrics:          collect,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		Timeout:   20 * time.Second,
		Transport: cache,
	}

	identityClient := identity.NewClient(identity.Config{
		BaseURL:       cfg.Backend.URL,
		AnonKey:       cfg.Backend.AnonKey,
		SessionPath:   filepath.Join(dataDir, "session.enc"),
		SessionSecret: secret,
		HTTPClient:    httpClient,
		Logger:        logger,
	})
	dataClient := datastore.NewClient(datastore.Config{
		BaseURL:    cfg.Backend.URL,
		AnonKey:    cfg.Backend.AnonKey,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	feed := realtime.NewFeed(realtime.Config{
		URL:     cfg.Backend.RealtimeURL,
		AnonKey: cfg.Backend.AnonKey,
		Logger:  logger,
	})

	device, err := devicestate.Open(filepath.Join(dataDir, "device.json"))
	if err != nil {
		return nil, err
	}

	hub := runtime.NewNotificationHub(notificationBacklog)

	core, err := app.New(app.Options{
		Reconcile: cfg.Reconcile,
		ToastTTL:  cfg.ToastTTL,
		Identity:  identityClient,
		Profiles:  dataClient,
		Blobs:     dataClient,
		Feed:      feedAdapter{feed: feed},
		Device:    device,
		Payments:  payments.NewCoordinator(30 * time.Minute),
		Notify: func(method string, payload any) {
			hub.Publish(method, payload)
		},
		Logger:  logger,
		Metrics: collect,
	})
	if err != nil {
		return nil, err
	}

	warmup := make([]string, 0, len(cfg.Cache.Precache))
	for _, path := range cfg.Cache.Precache {
		warmup = append(warmup, cfg.Backend.URL+path)
	}

	return &Service{
		core:     core,
		hub:      hub,
		cache:    cache,
		collect:  collect,
		identity: identityClient,
		warmup:   warmup,
		logger:   logger,
	}, nil
}

// feedAdapter narrows the websocket feed to the interface the core consumes.
type feedAdapter struct {
	feed *realtime.Feed
}

func (a feedAdapter) Subscribe(ctx context.Context, accessToken string, subs []realtime.Subscription, handler func(realtime.ChangeEvent)) (app.FeedListener, error) {
	return a.feed.Subscribe(ctx, accessToken, subs, handler)
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.core.Start(ctx); err != nil {
		return err
	}

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.refreshCancel = cancel
	go s.identity.RunAutoRefresh(refreshCtx)

	// Shell precache runs in the background; a cold cache is not an error.
	go s.cache.Warmup(refreshCtx, s.warmup)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.refreshCancel != nil {
		s.refreshCancel()
	}
	return s.core.Stop(ctx)
}

func (s *Service) UIState() models.UIState { return s.core.UIState() }

func (s *Service) SubscribeNotifications(fromSeq int64) ([]contracts.NotificationEvent, <-chan contracts.NotificationEvent, func()) {
	return s.hub.Subscribe(fromSeq)
}

func (s *Service) SignIn(ctx context.Context, email, password string) error {
	return s.core.SignIn(ctx, email, password)
}

func (s *Service) SignOut(ctx context.Context) error {
	return s.core.SignOut(ctx)
}

func (s *Service) UpdatePassword(ctx context.Context, newPassword string) error {
	return s.core.UpdatePassword(ctx, newPassword)
}

func (s *Service) RecoveryLink(ctx context.Context, token string) error {
	return s.core.RecoveryLink(ctx, token)
}

func (s *Service) RetryProfile() { s.core.RetryProfile() }

func (s *Service) UpdateAvatar(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	return s.core.UpdateAvatar(ctx, filename, contentType, data)
}

func (s *Service) Navigate(screen models.Screen, payload string) error {
	return s.core.Navigate(screen, payload)
}

func (s *Service) DismissToast(id string) { s.core.DismissToast(id) }

func (s *Service) DismissGuide() { s.core.DismissGuide() }

func (s *Service) InitCheckout(tier string) (models.Checkout, error) {
	return s.core.InitCheckout(tier)
}

func (s *Service) CompleteCheckout(reference string) error {
	return s.core.CompleteCheckout(reference)
}

func (s *Service) CloseCheckout(reference string) error {
	return s.core.CloseCheckout(reference)
}

func (s *Service) CacheStatus() (models.CacheStatus, error) {
	return s.cache.Status(), nil
}

// MetricsRegistry exposes the prometheus registry so the RPC adapter can
// mount the scrape endpoint.
func (s *Service) MetricsRegistry() *prometheus.Registry { return s.collect.Registry }
