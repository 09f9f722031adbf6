package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdapterSeedAndList(t *testing.T) {
	f := NewFakeAdapter()
	id := f.Seed(Detail{Summary: Summary{Name: "app", ImageRef: "app:1"}, ImageDigest: "sha256:aaa"})

	list, _, err := f.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestFakeAdapterStopStartIdempotent(t *testing.T) {
	f := NewFakeAdapter()
	id := f.Seed(Detail{Summary: Summary{Name: "app"}})
	ctx := context.Background()

	require.NoError(t, f.Stop(ctx, id, 0))
	require.NoError(t, f.Stop(ctx, id, 0), "second Stop() should be idempotent")
	require.NoError(t, f.Start(ctx, id))
}

func TestFakeAdapterCreateUsesSeededDigest(t *testing.T) {
	f := NewFakeAdapter()
	f.SetImageDigest("app:2", "sha256:ccc")

	id, err := f.Create(context.Background(), CreateSpec{Name: "app-new", Image: "app:2"})
	require.NoError(t, err)
	detail, err := f.Inspect(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "sha256:ccc", detail.ImageDigest)
}

func TestFakeAdapterInspectNotFound(t *testing.T) {
	f := NewFakeAdapter()
	_, err := f.Inspect(context.Background(), "missing")
	assert.Error(t, err)
}

func TestFakeAdapterListErrorInjection(t *testing.T) {
	f := NewFakeAdapter()
	wantErr := context.DeadlineExceeded
	f.SetListError(wantErr)

	_, _, err := f.List(context.Background())
	assert.Equal(t, wantErr, err)

	f.SetListError(nil)
	_, _, err = f.List(context.Background())
	assert.NoError(t, err)
}
