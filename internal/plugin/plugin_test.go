package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/satfetch/satfetch/internal/remote"
)

func TestRegisterAndResolveLocal(t *testing.T) {
	var gotPath, gotID string
	RegisterLocal("record-path", func(ctx context.Context, path, productID string) error {
		gotPath, gotID = path, productID
		return nil
	})

	fn, err := Local("record-path")
	require.NoError(t, err)
	require.NoError(t, fn(context.Background(), "/tmp/file.zip", "PROD1"))
	require.Equal(t, "/tmp/file.zip", gotPath)
	require.Equal(t, "PROD1", gotID)
}

func TestLocalUnknownErrors(t *testing.T) {
	_, err := Local("does-not-exist")
	require.Error(t, err)
}

func TestRegisterAndResolveRemote(t *testing.T) {
	var seenID string
	RegisterRemote("count-entries", func(ctx context.Context, dataset *remote.Dataset, productID string) error {
		seenID = productID
		return nil
	})

	fn, err := Remote("count-entries")
	require.NoError(t, err)
	require.NoError(t, fn(context.Background(), nil, "PROD2"))
	require.Equal(t, "PROD2", seenID)
}

func TestRemoteUnknownErrors(t *testing.T) {
	_, err := Remote("does-not-exist")
	require.Error(t, err)
}
