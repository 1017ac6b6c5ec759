package clientservice

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	storagePassphraseEnv = "VELGO_STORAGE_PASSPHRASE"
	storageKeyWrappedEnv = "VELGO_STORAGE_KEY_WRAPPED"
)

var ErrInsecureStorageKeyMode = errors.New("insecure storage key mode is forbidden in production")

// StoragePassphrase resolves the secret protecting the encrypted session
// projection: env override first, then the data dir's key file, else a fresh
// random key is generated and written. Production refuses to auto-generate a
// raw key file.
func StoragePassphrase(dataDir string) (string, error) {
	if secret := strings.TrimSpace(os.Getenv(storagePassphraseEnv)); secret != "" {
		return secret, nil
	}
	keyPath := filepath.Join(dataDir, "storage.key")
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			if policyErr := enforceStorageKeyPolicy("file"); policyErr != nil {
				return "", policyErr
			}
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if policyErr := enforceStorageKeyPolicy("auto-generate"); policyErr != nil {
		return "", policyErr
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := writeStorageKey(dataDir, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func writeStorageKey(dataDir, secret string) error {
	keyPath := filepath.Join(dataDir, "storage.key")
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(keyPath, []byte(secret), 0o600)
}

func enforceStorageKeyPolicy(source string) error {
	if !isProductionEnv() {
		return nil
	}
	if source == "auto-generate" {
		return fmt.Errorf(
			"%w: production requires %s or an OS-keystore-wrapped key; raw storage.key generation is disabled",
			ErrInsecureStorageKeyMode,
			storagePassphraseEnv,
		)
	}
	wrapped, _ := parseBoolEnv(storageKeyWrappedEnv)
	if wrapped {
		return nil
	}
	return fmt.Errorf(
		"%w: raw storage.key is forbidden in production; set %s or enable the wrapped key flow (%s=true)",
		ErrInsecureStorageKeyMode,
		storagePassphraseEnv,
		storageKeyWrappedEnv,
	)
}

func isProductionEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("VELGO_ENV"))) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func parseBoolEnv(name string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
