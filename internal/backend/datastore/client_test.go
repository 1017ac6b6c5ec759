package datastore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"velgo-hub/client-core/internal/contracts"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, AnonKey: "anon-key"})
}

func TestFetchProfileDecodesRow(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/profiles" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "eq.user-1" {
			t.Errorf("id filter = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.pgrst.object+json" {
			t.Errorf("accept = %q, want single-row expectation", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"id":"user-1","role":"worker","display_name":"Ade","verified":true,"created_at":"2026-08-01T10:00:00Z"}`))
	})

	profile, err := client.FetchProfile(context.Background(), "at-1", "user-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if profile.ID != "user-1" || profile.Role != "worker" || !profile.Verified {
		t.Fatalf("profile = %+v", profile)
	}
}

func TestFetchProfileMissingRowIsNoRecord(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
		_, _ = w.Write([]byte(`{"message":"JSON object requested, multiple (or no) rows returned"}`))
	})

	_, err := client.FetchProfile(context.Background(), "at-1", "user-1")
	if !errors.Is(err, contracts.ErrNoRecord) {
		t.Fatalf("err = %v, want ErrNoRecord", err)
	}
}

func TestFetchProfileSynthesizedOfflineBodyIsNoRecord(t *testing.T) {
	t.Parallel()

	// The offline interceptor answers dynamic GETs with a well-formed empty
	// body when nothing is cached; that must read as "no record", not as a
	// decode failure or a ghost profile.
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"Offline","data":[]}`))
	})

	_, err := client.FetchProfile(context.Background(), "at-1", "user-1")
	if !errors.Is(err, contracts.ErrNoRecord) {
		t.Fatalf("err = %v, want ErrNoRecord", err)
	}
}

func TestFetchProfileClassifiesPolicyFault(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"infinite recursion detected in policy for relation \"profiles\""}`))
	})

	_, err := client.FetchProfile(context.Background(), "at-1", "user-1")
	if !contracts.IsPolicyFault(err) {
		t.Fatalf("err = %v, want a policy fault", err)
	}
	if contracts.ErrorCategory(err) != contracts.ErrorCategoryPolicy {
		t.Fatalf("category = %q", contracts.ErrorCategory(err))
	}
}

func TestFetchProfileNetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.FetchProfile(context.Background(), "at-1", "user-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if contracts.ErrorCategory(err) != contracts.ErrorCategoryNetwork {
		t.Fatalf("category = %q, want network", contracts.ErrorCategory(err))
	}
	if contracts.IsPolicyFault(err) {
		t.Fatalf("network failure must not read as a policy fault")
	}
}

func TestUpdateProfileSendsPatch(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q", r.Method)
		}
		if got := r.Header.Get("Prefer"); got != "return=minimal" {
			t.Errorf("prefer = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.UpdateProfile(context.Background(), "at-1", "user-1", map[string]any{"display_name": "Ade"}); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestUploadObjectReturnsPublicURL(t *testing.T) {
	t.Parallel()

	var base string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storage/v1/object/avatars/user-1.png" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	base = client.baseURL

	got, err := client.UploadObject(context.Background(), "at-1", "avatars", "user-1.png", "image/png", []byte{1})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	want := base + "/storage/v1/object/public/avatars/user-1.png"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}
}
