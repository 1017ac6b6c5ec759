package offlinecache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"velgo-hub/client-core/pkg/models"
)

// partition is one named cache bucket backed by a directory of JSON entries.
// Reads and overwrite-writes on a given key are independently atomic; there
// is no eviction policy because dynamic entries are replaced on every
// successful fetch and static entries live until a version activation.
type partition struct {
	mu   sync.RWMutex
	name string
	dir  string
}

type storedResponse struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

func openPartition(root, name string) (*partition, error) {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &partition{name: name, dir: dir}, nil
}

func requestKey(method, url string) string {
	return method + " " + url
}

func (p *partition) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(p.dir, hex.EncodeToString(sum[:])+".json")
}

func (p *partition) load(key string) (*storedResponse, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	raw, err := os.ReadFile(p.entryPath(key))
	if err != nil {
		return nil, false
	}
	var entry storedResponse
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// store consumes resp's body and returns a replacement response backed by the
// captured bytes, so callers can hand it straight back to the client.
func (p *partition) store(key string, resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}

	entry := storedResponse{
		Key:      key,
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	path := p.entryPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err == nil {
		err = os.Rename(tmp, path)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func (p *partition) status() models.CachePartitionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := models.CachePartitionStatus{Name: p.name}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		out.Entries++
		if info, err := entry.Info(); err == nil {
			out.Bytes += info.Size()
		}
	}
	return out
}

func (e *storedResponse) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: e.Status,
		Status:     http.StatusText(e.Status),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     cloneHeader(e.Header),
		Body:       io.NopCloser(bytes.NewReader(e.Body)),
		Request:    req,
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// activate deletes every sibling partition directory whose name is not in
// keep. Entries from a previous cache version must not survive an upgrade.
func activate(root string, keep []string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	kept := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		kept[name] = struct{}{}
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := kept[entry.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
