package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestMemoryStore(t *testing.T) *SQLMemoryStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewSQLMemoryStore(db, DefaultMemoryStoreConfig(), zap.NewNop())
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSQLMemoryStore_RememberAndRecall(t *testing.T) {
	t.Parallel()

	store := newTestMemoryStore(t)
	ctx := context.Background()

	rec, err := store.Remember(ctx, "u1", "medication", "I take lisinopril 10 mg every morning for blood pressure.")
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	_, err = store.Remember(ctx, "u1", "", "My favorite color is blue.")
	require.NoError(t, err)
	_, err = store.Remember(ctx, "u2", "medication", "I take lisinopril 20 mg.")
	require.NoError(t, err)

	docs, err := store.Recall(ctx, "u1", "lisinopril dose", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	d := docs[0]
	assert.True(t, strings.HasPrefix(d.ID, "memory_"))
	assert.Equal(t, SourceMemory, d.Source)
	assert.Equal(t, "user_memory", d.MetaString(MetaSource))
	assert.Equal(t, "medication", d.MetaString(MetaName))
	assert.Equal(t, "u1", d.MetaString("user_id"))
	assert.NotEmpty(t, d.MetaString("created_at"))
	assert.Greater(t, d.Score, 0.1)
}

func TestSQLMemoryStore_RecallOrdersAndLimits(t *testing.T) {
	t.Parallel()

	store := newTestMemoryStore(t)
	ctx := context.Background()

	for _, content := range []string{
		"Atorvastatin for cholesterol.",
		"Atorvastatin 40 mg nightly for cholesterol, started after my cardiac stent; my doctor monitors liver risk and dose.",
		"Atorvastatin caused muscle pain once.",
	} {
		_, err := store.Remember(ctx, "u1", "note", content)
		require.NoError(t, err)
	}

	docs, err := store.Recall(ctx, "u1", "atorvastatin", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.GreaterOrEqual(t, docs[0].Score, docs[1].Score)
	assert.Contains(t, docs[0].Content, "40 mg nightly")
}

func TestSQLMemoryStore_Validation(t *testing.T) {
	t.Parallel()

	store := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := store.Remember(ctx, " ", "note", "content")
	assert.Error(t, err)
	_, err = store.Remember(ctx, "u1", "note", "   ")
	assert.Error(t, err)

	docs, err := store.Recall(ctx, "", "anything", 5)
	assert.NoError(t, err)
	assert.Nil(t, docs)
}

func TestSQLMemoryStore_Forget(t *testing.T) {
	t.Parallel()

	store := newTestMemoryStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Remember(ctx, "u1", "note", "Warfarin dose adjusted.")
		require.NoError(t, err)
	}
	_, err := store.Remember(ctx, "u2", "note", "Warfarin dose adjusted.")
	require.NoError(t, err)

	n, err := store.Forget(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	docs, err := store.Recall(ctx, "u1", "warfarin dose", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = store.Recall(ctx, "u2", "warfarin dose", 5)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
