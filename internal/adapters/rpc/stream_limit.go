package rpc

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	rpcStreamMaxGlobalEnv    = "VELGO_RPC_STREAM_MAX_GLOBAL"
	rpcStreamMaxPerClientEnv = "VELGO_RPC_STREAM_MAX_PER_CLIENT"
)

type rpcStreamLimitConfig struct {
	MaxGlobal    int
	MaxPerClient int
}

// rpcStreamLimiter caps concurrently open notification streams so a
// misbehaving frontend cannot exhaust server goroutines.
type rpcStreamLimiter struct {
	mu           sync.Mutex
	maxGlobal    int
	maxPerClient int
	global       int
	perClient    map[string]int
}

func loadRPCStreamLimitConfig() rpcStreamLimitConfig {
	cfg := rpcStreamLimitConfig{
		MaxGlobal:    128,
		MaxPerClient: 8,
	}
	if raw := strings.TrimSpace(os.Getenv(rpcStreamMaxGlobalEnv)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.MaxGlobal = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv(rpcStreamMaxPerClientEnv)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.MaxPerClient = parsed
		}
	}
	return cfg
}

func newRPCStreamLimiter(cfg rpcStreamLimitConfig) *rpcStreamLimiter {
	return &rpcStreamLimiter{
		maxGlobal:    cfg.MaxGlobal,
		maxPerClient: cfg.MaxPerClient,
		perClient:    make(map[string]int),
	}
}

// acquire reserves one stream slot for key. The returned release func is
// safe to call exactly once.
func (l *rpcStreamLimiter) acquire(key string) (func(), bool) {
	if l == nil {
		return func() {}, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.global >= l.maxGlobal {
		return nil, false
	}
	if l.perClient[key] >= l.maxPerClient {
		return nil, false
	}
	l.global++
	l.perClient[key]++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.global--
		l.perClient[key]--
		if l.perClient[key] <= 0 {
			delete(l.perClient, key)
		}
	}, true
}
