package models

import (
	"strings"
	"time"
)

// Session is the read-only projection of the identity provider's session.
// Tokens never leave the daemon; the presentation layer only sees identity
// metadata.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
}

func (s *Session) Live(now time.Time) bool {
	if s == nil || s.UserID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

type Role string

const (
	RoleClient Role = "client"
	RoleWorker Role = "worker"
	RoleAdmin  Role = "admin"
)

type Profile struct {
	ID               string    `json:"id"`
	Role             Role      `json:"role"`
	DisplayName      string    `json:"display_name"`
	Phone            string    `json:"phone,omitempty"`
	Location         string    `json:"location,omitempty"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	Verified         bool      `json:"verified"`
	SubscriptionTier string    `json:"subscription_tier,omitempty"`
	ThemeMode        string    `json:"theme_mode,omitempty"`
	Skills           []string  `json:"skills,omitempty"`
	HourlyRate       int       `json:"hourly_rate,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type ToastSeverity string

const (
	ToastInfo    ToastSeverity = "info"
	ToastSuccess ToastSeverity = "success"
	ToastAlert   ToastSeverity = "alert"
)

// Toast is the single transient notification. At most one is visible; a new
// toast replaces the current one and self-dismisses after a fixed lifetime.
type Toast struct {
	ID       string        `json:"id"`
	Message  string        `json:"message"`
	Severity ToastSeverity `json:"severity"`
	RaisedAt time.Time     `json:"raised_at"`
}

// UIState is the complete surface the presentation layer renders from.
type UIState struct {
	Loading      bool     `json:"loading"`
	SystemError  string   `json:"system_error,omitempty"`
	ProfileError bool     `json:"profile_error"`
	Session      *Session `json:"session,omitempty"`
	Profile      *Profile `json:"profile,omitempty"`
	View         Screen   `json:"view"`
	ViewData     string   `json:"view_data,omitempty"`
	Toast        *Toast   `json:"toast,omitempty"`
	GuideVisible bool     `json:"guide_visible,omitempty"`
}

type Checkout struct {
	Reference  string `json:"reference"`
	AmountKobo int    `json:"amount_kobo"`
	Email      string `json:"email"`
	Tier       string `json:"tier"`
}

type CachePartitionStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

type CacheStatus struct {
	Static  CachePartitionStatus `json:"static"`
	Dynamic CachePartitionStatus `json:"dynamic"`
}

func NormalizeRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleWorker:
		return RoleWorker
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleClient
	}
}
