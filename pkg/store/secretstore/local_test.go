package secretstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/secretstore"
	"github.com/stretchr/testify/require"
)

func TestLocalSecretStore_GeneratesInitialNonce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.json")

	store, err := secretstore.NewLocalSecretStore(path)
	require.NoError(t, err)

	n, err := store.GetNonce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n.Version)
	require.Len(t, n.Value, 64)
}

func TestLocalSecretStore_RotateGraceWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.json")
	store, err := secretstore.NewLocalSecretStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := store.GetNonce(ctx)
	require.NoError(t, err)

	v2, err := store.RotateNonce(ctx, "cafebabecafebabecafebabecafebabe")
	require.NoError(t, err)
	require.Equal(t, v1.Version+1, v2.Version)

	all, err := store.GetNonces(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, v2.Version, all[0].Version, "newest first")

	current, err := store.GetNonce(ctx)
	require.NoError(t, err)
	require.Equal(t, v2, current)
}

func TestLocalSecretStore_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.json")
	ctx := context.Background()

	store, err := secretstore.NewLocalSecretStore(path)
	require.NoError(t, err)
	original, err := store.GetNonce(ctx)
	require.NoError(t, err)

	reloaded, err := secretstore.NewLocalSecretStore(path)
	require.NoError(t, err)
	again, err := reloaded.GetNonce(ctx)
	require.NoError(t, err)

	require.Equal(t, original, again)
}

func TestLocalSecretStore_DropVersionEndsGrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.json")
	store, err := secretstore.NewLocalSecretStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	v1, _ := store.GetNonce(ctx)
	_, err = store.RotateNonce(ctx, "cafebabecafebabecafebabecafebabe")
	require.NoError(t, err)

	require.NoError(t, store.DropVersion(ctx, v1.Version))

	all, err := store.GetNonces(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestLocalSecretStore_CannotDropActiveVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.json")
	store, err := secretstore.NewLocalSecretStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	v1, _ := store.GetNonce(ctx)
	require.Error(t, store.DropVersion(ctx, v1.Version))
}
