package clientservice

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStoragePassphrasePrefersEnv(t *testing.T) {
	t.Setenv(storagePassphraseEnv, "env-secret")
	t.Setenv("VELGO_ENV", "")

	secret, err := StoragePassphrase(t.TempDir())
	if err != nil {
		t.Fatalf("storage passphrase failed: %v", err)
	}
	if secret != "env-secret" {
		t.Fatalf("unexpected secret: %s", secret)
	}
}

func TestStoragePassphraseGeneratesAndPersists(t *testing.T) {
	t.Setenv(storagePassphraseEnv, "")
	t.Setenv("VELGO_ENV", "")

	dataDir := t.TempDir()
	secret, err := StoragePassphrase(dataDir)
	if err != nil {
		t.Fatalf("storage passphrase failed: %v", err)
	}
	if secret == "" {
		t.Fatal("empty generated secret")
	}

	keyBytes, err := os.ReadFile(filepath.Join(dataDir, "storage.key"))
	if err != nil {
		t.Fatalf("read storage key failed: %v", err)
	}
	if string(keyBytes) != secret {
		t.Fatal("generated secret was not persisted")
	}

	again, err := StoragePassphrase(dataDir)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if again != secret {
		t.Fatal("secret changed across resolves")
	}
}

func TestStoragePassphraseProductionForbidsAutoGenerate(t *testing.T) {
	t.Setenv(storagePassphraseEnv, "")
	t.Setenv(storageKeyWrappedEnv, "")
	t.Setenv("VELGO_ENV", "production")

	_, err := StoragePassphrase(t.TempDir())
	if !errors.Is(err, ErrInsecureStorageKeyMode) {
		t.Fatalf("expected ErrInsecureStorageKeyMode, got: %v", err)
	}
}

func TestStoragePassphraseProductionKeyFileNeedsWrappedFlow(t *testing.T) {
	t.Setenv(storagePassphraseEnv, "")
	t.Setenv("VELGO_ENV", "production")

	dataDir := t.TempDir()
	if err := writeStorageKey(dataDir, "raw-secret"); err != nil {
		t.Fatalf("write storage key failed: %v", err)
	}

	t.Setenv(storageKeyWrappedEnv, "")
	if _, err := StoragePassphrase(dataDir); !errors.Is(err, ErrInsecureStorageKeyMode) {
		t.Fatalf("expected ErrInsecureStorageKeyMode, got: %v", err)
	}

	t.Setenv(storageKeyWrappedEnv, "true")
	secret, err := StoragePassphrase(dataDir)
	if err != nil {
		t.Fatalf("wrapped key flow rejected: %v", err)
	}
	if secret != "raw-secret" {
		t.Fatalf("unexpected secret: %s", secret)
	}
}
