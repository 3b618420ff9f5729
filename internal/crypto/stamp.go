package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/argus-dev/argus/internal/domain"
)

// StampVersion is the wire-format version embedded in every stamp footer.
const StampVersion = "1"

// stampVersionCurrent is StampVersion parsed once at init; a footer whose
// major version exceeds it was written by a newer instance speaking a wire
// format we don't understand yet, and verification bails out rather than
// guessing at its layout.
var stampVersionCurrent = semver.MustParse(StampVersion)

func versionSupported(raw string) bool {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return false
	}
	return v.Major() <= stampVersionCurrent.Major()
}

const maxClockSkew = 60 * time.Second

// stampDelimiter precedes every footer, per spec §6's wire format.
const stampDelimiter = "\n\n---\n"

// stampPattern parses the compact footer:
// 🔏 Argus v<ver> · <code><shortId8></code> · <ISO-8601> · <code>sig:<nonce>:<signature></code>
var stampPattern = regexp.MustCompile(
	`🔏 Argus v(?P<ver>\S+) · <code>(?P<short>[0-9a-f]{8})</code> · (?P<ts>\S+) · <code>sig:(?P<nonce>[0-9a-f]+):(?P<sig>[0-9a-f]+)</code>`,
)

// NonceRegistry tracks issued nonces for anti-replay (spec §3, §4.13). A
// nonce is bound to the first comment ID it is verified against; any later
// verification against a different comment ID is a replay.
type NonceRegistry struct {
	mu      sync.Mutex
	entries map[string]domain.NonceEntry
}

// NewNonceRegistry creates an empty registry.
func NewNonceRegistry() *NonceRegistry {
	return &NonceRegistry{entries: make(map[string]domain.NonceEntry)}
}

// Bind records a nonce's first observed binding, or checks it against an
// existing one. Returns false (replay) if the nonce was already bound to a
// different comment ID.
func (r *NonceRegistry) Bind(nonce string, repo string, commentID int64, action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[nonce]
	if !ok {
		r.entries[nonce] = domain.NonceEntry{
			Nonce:     nonce,
			Timestamp: time.Now(),
			Repo:      repo,
			CommentID: commentID,
			Action:    action,
		}
		return true
	}
	return existing.CommentID == commentID
}

// Prune removes entries older than maxAge. Non-blocking with respect to
// Bind: callers run it on a ticker, not inline with verification.
func (r *NonceRegistry) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.entries {
		if v.Timestamp.Before(cutoff) {
			delete(r.entries, k)
		}
	}
}

// Snapshot returns a copy of all entries, for persistence.
func (r *NonceRegistry) Snapshot() []domain.NonceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.NonceEntry, 0, len(r.entries))
	for _, v := range r.entries {
		out = append(out, v)
	}
	return out
}

// Restore loads entries back into the registry, e.g. after a restart.
func (r *NonceRegistry) Restore(entries []domain.NonceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.entries[e.Nonce] = e
	}
}

// StampManager emits and verifies content stamps (spec §4.13).
type StampManager struct {
	keys   *KeyManager
	nonces *NonceRegistry
}

// NewStampManager builds a stamp manager over the given key manager and
// nonce registry.
func NewStampManager(keys *KeyManager, nonces *NonceRegistry) *StampManager {
	return &StampManager{keys: keys, nonces: nonces}
}

// Emit produces a stamp and its markdown footer for the given content
// bytes. The caller appends the returned footer (which already includes the
// delimiter) to the content before sending it to the forge.
func (m *StampManager) Emit(content []byte) (domain.Stamp, string, error) {
	nonce, err := randomHex(8)
	if err != nil {
		return domain.Stamp{}, "", fmt.Errorf("crypto: generate nonce: %w", err)
	}

	contentHash := sha256Hex(content)
	ts := time.Now().UTC()

	sig := m.sign(m.keys.Current(), m.keys.InstanceID(), ts, nonce, contentHash)

	stamp := domain.Stamp{
		InstanceID:  m.keys.InstanceID(),
		Version:     StampVersion,
		Timestamp:   ts,
		Nonce:       nonce,
		ContentHash: contentHash,
		Signature:   sig,
	}

	shortID := m.keys.InstanceID()
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	footer := fmt.Sprintf(
		"%s🔏 Argus v%s · <code>%s</code> · %s · <code>sig:%s:%s</code>",
		stampDelimiter, StampVersion, shortID, ts.Format(time.RFC3339), nonce, sig,
	)

	return stamp, footer, nil
}

// VerifyResult is the outcome of verifying a stamped artifact.
type VerifyResult struct {
	Valid              bool
	IsOurInstance      bool
	Tampered           bool
	Replayed           bool
	UnsupportedVersion bool
	Stamp              domain.Stamp
	Err                error
}

// Verify extracts the footer from the full artifact text, recomputes the
// content hash over the prefix, validates the HMAC against the current or
// previous key, and checks the nonce against commentID for replay.
func (m *StampManager) Verify(fullText string, repo string, commentID int64) VerifyResult {
	idx := strings.Index(fullText, stampDelimiter)
	if idx < 0 {
		return VerifyResult{Err: fmt.Errorf("crypto: no stamp delimiter found")}
	}
	prefix := fullText[:idx]
	footer := fullText[idx:]

	match := stampPattern.FindStringSubmatch(footer)
	if match == nil {
		return VerifyResult{Err: fmt.Errorf("crypto: stamp footer did not match expected format")}
	}
	names := stampPattern.SubexpNames()
	fields := map[string]string{}
	for i, v := range match {
		if i == 0 || names[i] == "" {
			continue
		}
		fields[names[i]] = v
	}

	ts, err := time.Parse(time.RFC3339, fields["ts"])
	if err != nil {
		return VerifyResult{Err: fmt.Errorf("crypto: invalid stamp timestamp: %w", err)}
	}
	if ts.After(time.Now().Add(maxClockSkew)) {
		return VerifyResult{Tampered: true, Err: fmt.Errorf("crypto: stamp timestamp is in the future")}
	}
	if !versionSupported(fields["ver"]) {
		return VerifyResult{UnsupportedVersion: true, Err: fmt.Errorf("crypto: unsupported stamp version %q", fields["ver"])}
	}

	contentHash := sha256Hex([]byte(prefix))

	isOurs := strings.HasPrefix(m.keys.InstanceID(), fields["short"])

	sigOK := false
	for _, key := range [][]byte{m.keys.Current(), m.keys.Previous()} {
		if key == nil {
			continue
		}
		expected := m.sign(key, m.keys.InstanceID(), ts, fields["nonce"], contentHash)
		if hmac.Equal([]byte(expected), []byte(fields["sig"])) {
			sigOK = true
			break
		}
	}
	if !sigOK {
		return VerifyResult{Tampered: true, IsOurInstance: isOurs}
	}

	if !m.nonces.Bind(fields["nonce"], repo, commentID, "verify") {
		return VerifyResult{Replayed: true, IsOurInstance: isOurs}
	}

	return VerifyResult{
		Valid:         true,
		IsOurInstance: isOurs,
		Stamp: domain.Stamp{
			InstanceID:  fields["short"],
			Version:     fields["ver"],
			Timestamp:   ts,
			Nonce:       fields["nonce"],
			ContentHash: contentHash,
			Signature:   fields["sig"],
		},
	}
}

// HasValidStamp is a narrow helper for the orchestrator's "last word" rule
// (spec §4.1): true when text carries a stamp from this instance that
// verifies (independent of nonce replay bookkeeping, since a comment is
// only ever checked once for this purpose).
func (m *StampManager) HasValidStamp(text string) bool {
	idx := strings.Index(text, stampDelimiter)
	if idx < 0 {
		return false
	}
	match := stampPattern.FindStringSubmatch(text[idx:])
	if match == nil {
		return false
	}
	names := stampPattern.SubexpNames()
	fields := map[string]string{}
	for i, v := range match {
		if i == 0 || names[i] == "" {
			continue
		}
		fields[names[i]] = v
	}
	ts, err := time.Parse(time.RFC3339, fields["ts"])
	if err != nil {
		return false
	}
	contentHash := sha256Hex([]byte(text[:idx]))
	for _, key := range [][]byte{m.keys.Current(), m.keys.Previous()} {
		if key == nil {
			continue
		}
		expected := m.sign(key, m.keys.InstanceID(), ts, fields["nonce"], contentHash)
		if hmac.Equal([]byte(expected), []byte(fields["sig"])) {
			return true
		}
	}
	return false
}

func (m *StampManager) sign(key []byte, instanceID string, ts time.Time, nonce, contentHash string) string {
	payload := instanceID + "|" + ts.Format(time.RFC3339) + "|" + nonce + "|" + contentHash
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
