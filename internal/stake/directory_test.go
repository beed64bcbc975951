package stake

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestStaticSumsWhenTotalUnset(t *testing.T) {
	dir := NewStatic(map[string]float64{"bp1": 30, "bp2": 70}, 0)
	ctx := context.Background()

	w, ok, err := dir.Weight(ctx, "bp1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 30.0, w)

	_, ok, err = dir.Weight(ctx, "stranger")
	require.NoError(t, err)
	require.False(t, ok)

	total, err := dir.TotalWeight(ctx)
	require.NoError(t, err)
	require.Equal(t, 100.0, total)

	dir.Remove("bp2")
	total, err = dir.TotalWeight(ctx)
	require.NoError(t, err)
	require.Equal(t, 30.0, total)
}

func TestLoadStaticFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stake.yaml")
	require.NoError(t, os.WriteFile(path, []byte("total: 200\nweights:\n  bp1: 50\n  bp2: 150\n"), 0o600))

	dir, err := LoadStaticFile(path)
	require.NoError(t, err)
	total, err := dir.TotalWeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, 200.0, total)
	require.Equal(t, []string{"bp1", "bp2"}, dir.Authorities())
}

func TestLoadStaticFileRejectsNegativeWeight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stake.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights:\n  bp1: -1\n"), 0o600))

	_, err := LoadStaticFile(path)
	require.Error(t, err)
}

type fakeRedis struct {
	hash  map[string]string
	total string
}

func (f *fakeRedis) HGet(_ context.Context, _, field string) *redis.StringCmd {
	if v, ok := f.hash[field]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) HVals(_ context.Context, _ string) *redis.StringSliceCmd {
	vals := make([]string, 0, len(f.hash))
	for _, v := range f.hash {
		vals = append(vals, v)
	}
	return redis.NewStringSliceResult(vals, nil)
}

func (f *fakeRedis) Get(_ context.Context, _ string) *redis.StringCmd {
	if f.total == "" {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(f.total, nil)
}

func TestRedisDirectory(t *testing.T) {
	fake := &fakeRedis{hash: map[string]string{"bp1": "25", "bp2": "75"}}
	dir := newRedis(fake, "", "")
	ctx := context.Background()

	w, ok, err := dir.Weight(ctx, "bp2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 75.0, w)

	_, ok, err = dir.Weight(ctx, "nobody")
	require.NoError(t, err)
	require.False(t, ok)

	total, err := dir.TotalWeight(ctx)
	require.NoError(t, err)
	require.Equal(t, 100.0, total)

	fake.total = "400"
	total, err = dir.TotalWeight(ctx)
	require.NoError(t, err)
	require.Equal(t, 400.0, total)
}

func TestHTTPDirectoryCachesDocument(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"producers":{"bp1":10,"bp2":"30"},"staked":80}}`)
	}))
	defer srv.Close()

	dir := NewHTTP(HTTPOptions{
		URL:         srv.URL,
		WeightsPath: "$.data.producers",
		TotalPath:   "$.data.staked",
		TTL:         time.Minute,
	})
	ctx := context.Background()

	w, ok, err := dir.Weight(ctx, "bp2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 30.0, w)

	total, err := dir.TotalWeight(ctx)
	require.NoError(t, err)
	require.Equal(t, 80.0, total)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestHTTPDirectoryRejectsNonObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"weights":[1,2,3]}`)
	}))
	defer srv.Close()

	dir := NewHTTP(HTTPOptions{URL: srv.URL})
	_, _, err := dir.Weight(context.Background(), "bp1")
	require.Error(t, err)
}
