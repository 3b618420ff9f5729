package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/crypto"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "argus.yaml")
}

func TestRotateKeyRequiresInitFirst(t *testing.T) {
	cfgPath := tempConfigPath(t)
	err := rotateKey(context.Background(), cfgPath, false)
	require.ErrorIs(t, err, crypto.ErrNoIdentity)
}

func TestRotateKeyInitThenRotate(t *testing.T) {
	cfgPath := tempConfigPath(t)
	require.NoError(t, rotateKey(context.Background(), cfgPath, true))

	st, err := openStore(cfgPath)
	require.NoError(t, err)
	before, err := openKeys(context.Background(), st)
	require.NoError(t, err)
	firstKey := append([]byte(nil), before.Current()...)

	require.NoError(t, rotateKey(context.Background(), cfgPath, false))

	st2, err := openStore(cfgPath)
	require.NoError(t, err)
	after, err := openKeys(context.Background(), st2)
	require.NoError(t, err)
	require.NotEqual(t, firstKey, after.Current())
	require.Equal(t, firstKey, after.Previous())
}
