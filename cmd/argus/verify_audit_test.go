package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/audit"
)

func TestVerifyAuditNoEntriesSucceeds(t *testing.T) {
	cfgPath := tempConfigPath(t)
	require.NoError(t, rotateKey(context.Background(), cfgPath, true))
	require.NoError(t, verifyAudit(context.Background(), cfgPath))
}

func TestVerifyAuditSucceedsAfterAppend(t *testing.T) {
	cfgPath := tempConfigPath(t)
	require.NoError(t, rotateKey(context.Background(), cfgPath, true))

	ctx := context.Background()
	st, err := openStore(cfgPath)
	require.NoError(t, err)
	keys, err := openKeys(ctx, st)
	require.NoError(t, err)
	log, err := audit.Open(ctx, st, keys)
	require.NoError(t, err)

	_, err = log.Append(ctx, audit.AppendInput{ActionKind: "evaluation", Repo: "o/r", Target: "o/r#1", Decision: "approved"})
	require.NoError(t, err)

	err = verifyAudit(ctx, cfgPath)
	require.NoError(t, err)
}
