package index_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fd-attendance/internal/index"
)

func newMirror(t *testing.T) *index.RedisMirror {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return index.NewRedisMirror(rdb)
}

func TestRedisMirrorSaveAndLoadAll(t *testing.T) {
	mirror := newMirror(t)

	require.NoError(t, mirror.SaveVector("alice", []float32{1, 2, 3}))
	require.NoError(t, mirror.SaveVector("bob", []float32{4, 5, 6}))

	all, err := mirror.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []float32{1, 2, 3}, all["alice"])
	require.Equal(t, []float32{4, 5, 6}, all["bob"])
}

func TestRedisMirrorDeleteLabel(t *testing.T) {
	mirror := newMirror(t)
	require.NoError(t, mirror.SaveVector("alice", []float32{1, 2, 3}))

	require.NoError(t, mirror.DeleteLabel("alice"))

	all, err := mirror.LoadAll()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestRedisMirrorOverwritesExistingVector(t *testing.T) {
	mirror := newMirror(t)
	require.NoError(t, mirror.SaveVector("alice", []float32{1, 2, 3}))
	require.NoError(t, mirror.SaveVector("alice", []float32{9, 9, 9}))

	all, err := mirror.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, []float32{9, 9, 9}, all["alice"])
}
