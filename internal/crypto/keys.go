// Package crypto implements Argus's cryptographic identity layer: the key
// manager, the stamp manager and its nonce registry (spec §4.13, §4.14).
package crypto

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/argus-dev/argus/internal/ports"
)

const (
	instanceIDBytes = 8  // 64-bit hex instance ID
	hmacKeyBytes    = 32 // 32-byte HMAC signing key
	storeKeyID      = "crypto/instance_id"
	secretKeyCur    = "crypto/hmac_key/current"
	secretKeyPrev   = "crypto/hmac_key/previous"
	storeKeyMeta    = "crypto/key_meta"
)

// ErrNoIdentity is returned when no cryptographic identity key exists.
// Per spec.md's non-goals, Argus refuses to run without one.
var ErrNoIdentity = fmt.Errorf("crypto: no signing identity configured; run key init before starting the agent")

// KeyMeta records when the current and previous keys were created, used to
// recommend rotation.
type KeyMeta struct {
	CurrentCreatedAt  time.Time
	PreviousCreatedAt time.Time
}

// KeyManager owns the per-instance identity and HMAC signing key, and
// handles rotation. It is the sole writer of the current/previous key pair;
// every other component only ever reads through Current()/Previous().
type KeyManager struct {
	store ports.Store

	mu         sync.RWMutex
	instanceID string
	current    []byte
	previous   []byte
	meta       KeyMeta
}

// NewKeyManager loads the instance identity and signing key from store. It
// returns ErrNoIdentity if none has been initialized yet; callers must run
// Bootstrap first (typically via `argus rotate-key --init`).
func NewKeyManager(ctx context.Context, store ports.Store) (*KeyManager, error) {
	km := &KeyManager{store: store}

	idBytes, ok, err := store.Get(ctx, storeKeyID)
	if err != nil {
		return nil, fmt.Errorf("crypto: load instance id: %w", err)
	}
	if !ok {
		return nil, ErrNoIdentity
	}
	km.instanceID = string(idBytes)

	cur, ok, err := store.GetSecret(ctx, secretKeyCur)
	if err != nil {
		return nil, fmt.Errorf("crypto: load current key: %w", err)
	}
	if !ok {
		return nil, ErrNoIdentity
	}
	km.current = cur

	if prev, ok, err := store.GetSecret(ctx, secretKeyPrev); err == nil && ok {
		km.previous = prev
	}

	if raw, ok, err := store.Get(ctx, storeKeyMeta); err == nil && ok {
		_ = km.meta.unmarshal(raw) // best-effort; absence just disables age hints
	}

	return km, nil
}

// Bootstrap generates a fresh instance ID and signing key and persists them.
// It is idempotent-unsafe by design: calling it on an already-initialized
// store overwrites the identity, so callers must gate it behind an explicit
// operator command.
func Bootstrap(ctx context.Context, store ports.Store) (*KeyManager, error) {
	id, err := randomHex(instanceIDBytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate instance id: %w", err)
	}
	key, err := randomBytes(hmacKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate signing key: %w", err)
	}

	if err := store.Put(ctx, storeKeyID, []byte(id)); err != nil {
		return nil, fmt.Errorf("crypto: persist instance id: %w", err)
	}
	if err := store.PutSecret(ctx, secretKeyCur, key); err != nil {
		return nil, fmt.Errorf("crypto: persist signing key: %w", err)
	}

	km := &KeyManager{store: store, instanceID: id, current: key, meta: KeyMeta{CurrentCreatedAt: time.Now()}}
	if raw, err := km.meta.marshal(); err == nil {
		_ = store.Put(ctx, storeKeyMeta, raw)
	}
	return km, nil
}

// InstanceID returns the public 64-bit hex instance identifier.
func (km *KeyManager) InstanceID() string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.instanceID
}

// Current returns the active signing key.
func (km *KeyManager) Current() []byte {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.current
}

// Previous returns the prior signing key, or nil if there is none (no
// rotation has happened yet).
func (km *KeyManager) Previous() []byte {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.previous
}

// Meta returns key creation timestamps for rotation-age recommendations.
func (km *KeyManager) Meta() KeyMeta {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.meta
}

// Rotate moves the current key to previous and generates a fresh current
// key. This is the sole mutator of key state; callers must serialize calls
// to Rotate (the orchestrator never calls it concurrently with itself).
func (km *KeyManager) Rotate(ctx context.Context) error {
	newKey, err := randomBytes(hmacKeyBytes)
	if err != nil {
		return fmt.Errorf("crypto: generate rotated key: %w", err)
	}

	km.mu.Lock()
	oldCurrent := km.current
	km.previous = oldCurrent
	km.current = newKey
	km.meta.PreviousCreatedAt = km.meta.CurrentCreatedAt
	km.meta.CurrentCreatedAt = time.Now()
	meta := km.meta
	km.mu.Unlock()

	if err := km.store.PutSecret(ctx, secretKeyPrev, oldCurrent); err != nil {
		return fmt.Errorf("crypto: persist previous key: %w", err)
	}
	if err := km.store.PutSecret(ctx, secretKeyCur, newKey); err != nil {
		return fmt.Errorf("crypto: persist rotated key: %w", err)
	}
	if raw, err := meta.marshal(); err == nil {
		_ = km.store.Put(ctx, storeKeyMeta, raw)
	}
	return nil
}

// RecommendRotation reports whether the current key is older than maxAge.
func (km *KeyManager) RecommendRotation(maxAge time.Duration) bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.meta.CurrentCreatedAt.IsZero() {
		return false
	}
	return time.Since(km.meta.CurrentCreatedAt) > maxAge
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func randomHex(n int) (string, error) {
	b, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// marshal/unmarshal keep KeyMeta persistence dependency-free: two RFC3339
// lines is simpler than wiring a codec for two timestamps.
func (m KeyMeta) marshal() ([]byte, error) {
	return []byte(m.CurrentCreatedAt.Format(time.RFC3339Nano) + "\n" + m.PreviousCreatedAt.Format(time.RFC3339Nano) + "\n"), nil
}

func (m *KeyMeta) unmarshal(raw []byte) error {
	lines := splitLines(string(raw))
	if len(lines) < 2 {
		return fmt.Errorf("crypto: malformed key metadata")
	}
	cur, err := time.Parse(time.RFC3339Nano, lines[0])
	if err != nil {
		return err
	}
	prev, err := time.Parse(time.RFC3339Nano, lines[1])
	if err != nil {
		return err
	}
	m.CurrentCreatedAt = cur
	m.PreviousCreatedAt = prev
	return nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return lines
}
