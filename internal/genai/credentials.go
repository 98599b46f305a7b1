package genai

import (
	"log/slog"
	"strings"
	"sync/atomic"
)

// CredentialPool is a fixed list of provider API keys with a rotating cursor.
// Rotate is the only write to the cursor; concurrent rotations from different
// sessions may skip a key, which is tolerated.
type CredentialPool struct {
	keys   []string
	cursor atomic.Uint64
}

// NewCredentialPool builds a pool from the given keys, dropping blanks and duplicates.
func NewCredentialPool(keys []string) *CredentialPool {
	seen := make(map[string]struct{}, len(keys))
	p := &CredentialPool{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		p.keys = append(p.keys, k)
	}
	slog.Debug("CredentialPool.NewCredentialPool: pool created", "size", len(p.keys))
	return p
}

// Len returns the number of usable credentials.
func (p *CredentialPool) Len() int {
	return len(p.keys)
}

// Current returns the key under the cursor and its index.
// ok is false when the pool is empty.
func (p *CredentialPool) Current() (key string, index int, ok bool) {
	if len(p.keys) == 0 {
		return "", 0, false
	}
	index = int(p.cursor.Load() % uint64(len(p.keys)))
	return p.keys[index], index, true
}

// Rotate advances the cursor to the next key and returns the new index.
func (p *CredentialPool) Rotate() int {
	if len(p.keys) == 0 {
		return 0
	}
	next := int(p.cursor.Add(1) % uint64(len(p.keys)))
	slog.Info("CredentialPool.Rotate: switched credential", "credentialIndex", next, "size", len(p.keys))
	return next
}
