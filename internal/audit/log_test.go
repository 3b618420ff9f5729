package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/crypto"
	"github.com/argus-dev/argus/internal/store"
)

func TestAppendChainsAndVerifies(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	km, err := crypto.Bootstrap(ctx, mem)
	require.NoError(t, err)

	log, err := Open(ctx, mem, km)
	require.NoError(t, err)

	first, err := log.Append(ctx, AppendInput{ActionKind: "poll_repos", Repo: "o/r", Decision: "ok"})
	require.NoError(t, err)
	require.Equal(t, "00000001", first.ID)
	require.Equal(t, Genesis, first.PreviousEntryHash)

	second, err := log.Append(ctx, AppendInput{ActionKind: "evaluate_issue", Repo: "o/r", Decision: "approved"})
	require.NoError(t, err)
	require.Equal(t, "00000002", second.ID)
	require.Equal(t, serializedHash(first), second.PreviousEntryHash)

	entries, err := log.All(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Nil(t, Verify(entries, km))
}

func TestVerifyDetectsBrokenChain(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	km, err := crypto.Bootstrap(ctx, mem)
	require.NoError(t, err)
	log, err := Open(ctx, mem, km)
	require.NoError(t, err)

	_, err = log.Append(ctx, AppendInput{ActionKind: "poll_repos", Repo: "o/r"})
	require.NoError(t, err)
	_, err = log.Append(ctx, AppendInput{ActionKind: "evaluate_issue", Repo: "o/r"})
	require.NoError(t, err)

	entries, err := log.All(ctx)
	require.NoError(t, err)
	entries[1].PreviousEntryHash = "tampered"

	broken := Verify(entries, km)
	require.NotNil(t, broken)
	require.Equal(t, 1, broken.Index)
}

func TestVerifyDetectsBadSignature(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	km, err := crypto.Bootstrap(ctx, mem)
	require.NoError(t, err)
	log, err := Open(ctx, mem, km)
	require.NoError(t, err)

	_, err = log.Append(ctx, AppendInput{ActionKind: "poll_repos", Repo: "o/r"})
	require.NoError(t, err)

	entries, err := log.All(ctx)
	require.NoError(t, err)
	entries[0].Signature = "0000"

	broken := Verify(entries, km)
	require.NotNil(t, broken)
	require.Equal(t, 0, broken.Index)
}

func TestReopenContinuesChain(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	km, err := crypto.Bootstrap(ctx, mem)
	require.NoError(t, err)

	log, err := Open(ctx, mem, km)
	require.NoError(t, err)
	_, err = log.Append(ctx, AppendInput{ActionKind: "poll_repos", Repo: "o/r"})
	require.NoError(t, err)

	reopened, err := Open(ctx, mem, km)
	require.NoError(t, err)
	next, err := reopened.Append(ctx, AppendInput{ActionKind: "evaluate_issue", Repo: "o/r"})
	require.NoError(t, err)
	require.Equal(t, "00000002", next.ID)
}
