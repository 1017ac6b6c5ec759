package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"velgo-hub/client-core/internal/contracts"
	"velgo-hub/client-core/pkg/models"
)

type Config struct {
	BaseURL    string
	AnonKey    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the row-level-access-controlled data store. All GETs go
// through the offline cache transport installed on the HTTP client.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		anonKey: cfg.AnonKey,
		http:    httpClient,
		logger:  logger,
	}
}

// FetchProfile loads the profile row for userID with single-row expectation.
// A missing row is contracts.ErrNoRecord: transient until the caller's retry
// budget says otherwise.
func (c *Client) FetchProfile(ctx context.Context, accessToken, userID string) (*models.Profile, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/profiles?id=eq.%s&select=*", c.baseURL, url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req, accessToken)
	req.Header.Set("Accept", "application/vnd.pgrst.object+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		var profile models.Profile
		if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
			return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryData, err)
		}
		// The offline interceptor can synthesize an empty result; an OK body
		// without an id is still "no record".
		if profile.ID == "" {
			return nil, contracts.ErrNoRecord
		}
		return &profile, nil
	case resp.StatusCode == http.StatusNotAcceptable, resp.StatusCode == http.StatusNotFound:
		return nil, contracts.ErrNoRecord
	default:
		return nil, classifyAPIError(resp)
	}
}

// UpdateProfile patches the caller's own row.
func (c *Client) UpdateProfile(ctx context.Context, accessToken, userID string, patch map[string]any) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/rest/v1/profiles?id=eq.%s", c.baseURL, url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.decorate(req, accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return classifyAPIError(resp)
	}
	return nil
}

// UploadObject stores a blob and returns its public URL.
func (c *Client) UploadObject(ctx context.Context, accessToken, bucket, objectPath, contentType string, data []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, objectPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	c.decorate(req, accessToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", classifyAPIError(resp)
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, objectPath), nil
}

func (c *Client) decorate(req *http.Request, accessToken string) {
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

// classifyAPIError separates access-control misconfiguration, which must
// halt the application, from ordinary query failures.
func classifyAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Message string `json:"message"`
	}
	message := ""
	if err := json.Unmarshal(body, &parsed); err == nil {
		message = parsed.Message
	}
	if message == "" {
		message = fmt.Sprintf("data store returned status %d", resp.StatusCode)
	}
	err := errors.New(message)
	if contracts.IsPolicyFault(err) {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryPolicy, err)
	}
	return contracts.WrapCategorizedError(contracts.ErrorCategoryData, err)
}
