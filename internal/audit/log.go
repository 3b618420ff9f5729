// Package audit implements Argus's append-only, hash-chained, HMAC-signed
// audit log (spec §4.15). It is the only component permitted to mutate the
// audit counter and the last-entry hash, and it never rewrites or removes a
// previously appended entry.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/ports"
)

// Genesis is the previous-hash value of the first entry in the chain.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

const (
	storeKeyCounter = "audit/counter"
	storeKeyPrefix  = "audit/entry/"
)

// KeySource supplies the current and previous HMAC keys used to sign and
// verify entries. internal/crypto.KeyManager satisfies this.
type KeySource interface {
	Current() []byte
	Previous() []byte
}

// Log is the hash-chained audit log. Appends are serialized by an internal
// counter; construction loads counter and last-hash state from the store so
// a restarted agent continues the same chain.
type Log struct {
	mu       sync.Mutex
	store    ports.Store
	keys     KeySource
	counter  int
	lastHash string

	// Now is the clock used to stamp new entries; overridable in tests.
	Now func() time.Time
}

// Open loads (or initializes) the audit log backed by store.
func Open(ctx context.Context, store ports.Store, keys KeySource) (*Log, error) {
	l := &Log{store: store, keys: keys, lastHash: Genesis, Now: time.Now}

	raw, ok, err := store.Get(ctx, storeKeyCounter)
	if err != nil {
		return nil, fmt.Errorf("audit: load counter: %w", err)
	}
	if !ok {
		return l, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return nil, fmt.Errorf("audit: malformed counter: %w", err)
	}
	l.counter = n
	if n > 0 {
		last, err := l.get(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("audit: load last entry: %w", err)
		}
		l.lastHash = serializedHash(last)
	}
	return l, nil
}

// AppendInput is the caller-supplied content of a new audit entry; ID,
// timestamp, previous-hash and signature are computed by Append.
type AppendInput struct {
	ActionKind   string
	Repo         string
	Target       string
	InputHash    string
	OutputHash   string
	Decision     string
	LLMCallCount int
	Details      string
}

// Append adds a new entry to the chain and persists it. It is the only
// mutator of the counter and last-hash; callers never construct
// domain.AuditEntry directly.
func (l *Log) Append(ctx context.Context, in AppendInput) (domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counter++
	entry := domain.AuditEntry{
		ID:                fmt.Sprintf("%08d", l.counter),
		Timestamp:         l.Now().UTC(),
		ActionKind:        in.ActionKind,
		Repo:              in.Repo,
		Target:            in.Target,
		InputHash:         in.InputHash,
		OutputHash:        in.OutputHash,
		Decision:          in.Decision,
		LLMCallCount:      in.LLMCallCount,
		Details:           in.Details,
		PreviousEntryHash: l.lastHash,
	}
	entry.Signature = l.sign(l.keys.Current(), entry)

	if err := l.persist(ctx, entry); err != nil {
		l.counter--
		return domain.AuditEntry{}, err
	}

	l.lastHash = serializedHash(entry)
	return entry, nil
}

func (l *Log) persist(ctx context.Context, entry domain.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if err := l.store.Put(ctx, storeKeyPrefix+entry.ID, raw); err != nil {
		return fmt.Errorf("audit: persist entry: %w", err)
	}
	if err := l.store.Put(ctx, storeKeyCounter, []byte(strconv.Itoa(l.counter))); err != nil {
		return fmt.Errorf("audit: persist counter: %w", err)
	}
	return nil
}

func (l *Log) get(ctx context.Context, id int) (domain.AuditEntry, error) {
	raw, ok, err := l.store.Get(ctx, storeKeyPrefix+fmt.Sprintf("%08d", id))
	if err != nil {
		return domain.AuditEntry{}, err
	}
	if !ok {
		return domain.AuditEntry{}, fmt.Errorf("audit: entry %08d missing", id)
	}
	var entry domain.AuditEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("audit: unmarshal entry %08d: %w", id, err)
	}
	return entry, nil
}

// All loads every entry in order, for verification or export.
func (l *Log) All(ctx context.Context) ([]domain.AuditEntry, error) {
	l.mu.Lock()
	n := l.counter
	l.mu.Unlock()

	entries := make([]domain.AuditEntry, 0, n)
	for i := 1; i <= n; i++ {
		e, err := l.get(ctx, i)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// BrokenAt identifies the first entry that fails chain or signature
// verification, or -1 if the whole chain is intact.
type BrokenAt struct {
	Index  int
	Reason string
}

// Verify walks the chain from genesis, re-deriving the expected previous
// hash and checking each entry's signature against current and previous
// keys. It returns the first break found, if any (spec §4.15, §8).
func Verify(entries []domain.AuditEntry, keys KeySource) *BrokenAt {
	expectedPrev := Genesis
	for i, e := range entries {
		if e.PreviousEntryHash != expectedPrev {
			return &BrokenAt{Index: i, Reason: "previous_entry_hash mismatch"}
		}
		if !verifySignature(keys, e) {
			return &BrokenAt{Index: i, Reason: "signature invalid"}
		}
		expectedPrev = serializedHash(e)
	}
	return nil
}

func verifySignature(keys KeySource, e domain.AuditEntry) bool {
	payload := signPayload(e)
	for _, key := range [][]byte{keys.Current(), keys.Previous()} {
		if key == nil {
			continue
		}
		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(payload))
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(e.Signature)) {
			return true
		}
	}
	return false
}

func (l *Log) sign(key []byte, e domain.AuditEntry) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signPayload(e)))
	return hex.EncodeToString(mac.Sum(nil))
}

// signPayload concatenates the fields the signature covers, per spec §4.15.
func signPayload(e domain.AuditEntry) string {
	return e.ID + "|" + e.Timestamp.Format(rfc3339Nano) + "|" + e.ActionKind + "|" + e.Repo + "|" +
		e.Target + "|" + e.InputHash + "|" + e.OutputHash + "|" + e.Decision + "|" + e.PreviousEntryHash
}

// serializedHash is the SHA-256 of an entry's canonical serialized form,
// used as the next entry's previous_entry_hash.
func serializedHash(e domain.AuditEntry) string {
	raw, _ := json.Marshal(e)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

const rfc3339Nano = "2006-01-02T15:04:05.999999999Z07:00"
