package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// zstdMagic opens every zstd frame.
const zstdMagic = "\x28\xb5\x2f\xfd"

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = manager.Close()
		mr.Close()
	})
	return mr, manager
}

func TestManager_SetAndGet(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Minute))
	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestManager_MissIsSentinel(t *testing.T) {
	_, manager := setupTestRedis(t)

	_, err := manager.Get(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, IsCacheMiss(err))

	var dest map[string]any
	err = manager.GetCompressedJSON(context.Background(), "absent", &dest)
	assert.True(t, IsCacheMiss(err))
}

func TestManager_Delete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, manager.Delete(ctx, "k"))
	_, err := manager.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
	assert.NoError(t, manager.Delete(ctx))
}

type payload struct {
	Query string   `json:"query"`
	IDs   []string `json:"ids"`
	Score float64  `json:"score"`
}

func TestManager_JSONRoundTrip(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	in := payload{Query: "statin side effects", IDs: []string{"a", "b"}, Score: 0.75}
	require.NoError(t, manager.SetJSON(ctx, "plain", in, time.Minute))

	var out payload
	require.NoError(t, manager.GetJSON(ctx, "plain", &out))
	assert.Equal(t, in, out)
}

func TestManager_CompressedJSONRoundTrip(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	in := payload{Query: "lisinopril dosing in renal impairment", IDs: []string{"d1", "d2", "d3"}, Score: 0.5}
	require.NoError(t, manager.SetCompressedJSON(ctx, "zst", in, time.Minute))

	raw, err := mr.Get("zst")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, zstdMagic), "payload should be a zstd frame")

	var out payload
	require.NoError(t, manager.GetCompressedJSON(ctx, "zst", &out))
	assert.Equal(t, in, out)
}

func TestManager_CompressedJSONShrinksRepetitivePayload(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	ids := make([]string, 200)
	for i := range ids {
		ids[i] = "pubmed-document"
	}
	in := payload{Query: strings.Repeat("lisinopril dosing in renal impairment ", 20), IDs: ids, Score: 0.5}
	require.NoError(t, manager.SetJSON(ctx, "plain", in, time.Minute))
	require.NoError(t, manager.SetCompressedJSON(ctx, "zst", in, time.Minute))

	plain, err := mr.Get("plain")
	require.NoError(t, err)
	packed, err := mr.Get("zst")
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain)/2)

	var out payload
	require.NoError(t, manager.GetCompressedJSON(ctx, "zst", &out))
	assert.Equal(t, in, out)
}

func TestManager_GetCompressedJSONRejectsPlainValue(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "plain", `{"query":"x"}`, time.Minute))
	var out payload
	err := manager.GetCompressedJSON(ctx, "plain", &out)
	require.Error(t, err)
	assert.False(t, IsCacheMiss(err))
}

func TestManager_SetJSONInvalidData(t *testing.T) {
	_, manager := setupTestRedis(t)

	err := manager.SetJSON(context.Background(), "bad", make(chan int), time.Minute)
	assert.Error(t, err)
}

func TestManager_TTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "ttl", "value", 100*time.Millisecond))
	_, err := manager.Get(ctx, "ttl")
	require.NoError(t, err)

	mr.FastForward(200 * time.Millisecond)

	_, err = manager.Get(ctx, "ttl")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_DefaultTTLApplied(t *testing.T) {
	mr, manager := setupTestRedis(t)

	require.NoError(t, manager.Set(context.Background(), "default", "value", 0))
	assert.Equal(t, time.Minute, mr.TTL("default"))
}

func TestManager_ClosedRejectsOperations(t *testing.T) {
	_, manager := setupTestRedis(t)

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	_, err := manager.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)
}

func TestNewManager_Unreachable(t *testing.T) {
	manager, err := NewManager(Config{Addr: "localhost:1"}, zap.NewNop())
	assert.Nil(t, manager)
	assert.Error(t, err)
}
