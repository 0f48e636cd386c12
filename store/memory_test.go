package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreInsertAndFind(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, CollectionUsers, Document{"user_name": "alice", "chat_id": int64(1)}))
	require.NoError(t, s.Insert(ctx, CollectionUsers, Document{"user_name": "bob", "chat_id": int64(2)}))

	docs, err := s.Find(ctx, CollectionUsers, Filter{"user_name": "alice"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(1), docs[0]["chat_id"])

	all, err := s.Find(ctx, CollectionUsers, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStoreFindOne(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.FindOne(ctx, CollectionUsers, Filter{"user_name": "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Insert(ctx, CollectionUsers, Document{"user_name": "carol"}))
	doc, err := s.FindOne(ctx, CollectionUsers, Filter{"user_name": "carol"})
	require.NoError(t, err)
	assert.Equal(t, "carol", doc["user_name"])
}

func TestMemoryStoreUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, CollectionUsers, Document{"user_name": "dave", "score": 1}))
	require.NoError(t, s.Update(ctx, CollectionUsers, Filter{"user_name": "dave"}, Document{"score": 2}))

	doc, err := s.FindOne(ctx, CollectionUsers, Filter{"user_name": "dave"})
	require.NoError(t, err)
	assert.Equal(t, 2, doc["score"])
}

func TestMemoryStoreDeleteMany(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert(ctx, CollectionQuery, Document{"kind": "old"}))
	}
	require.NoError(t, s.Insert(ctx, CollectionQuery, Document{"kind": "new"}))

	deleted, err := s.DeleteMany(ctx, CollectionQuery, Filter{"kind": "old"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	remaining, err := s.Find(ctx, CollectionQuery, Filter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestMemoryStoreCopiesDocuments(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	original := Document{"user_name": "eve"}
	require.NoError(t, s.Insert(ctx, CollectionUsers, original))
	original["user_name"] = "mutated"

	doc, err := s.FindOne(ctx, CollectionUsers, Filter{"user_name": "eve"})
	require.NoError(t, err)
	assert.Equal(t, "eve", doc["user_name"])
}

func TestQueryRecordToDocument(t *testing.T) {
	now := time.Now().UTC()
	doc := QueryRecord{Question: "q", Response: "r", Date: now}.ToDocument()
	assert.Equal(t, "q", doc["question"])
	assert.Equal(t, "r", doc["response"])
	assert.Equal(t, now, doc["date"])
	_, hasUser := doc["user_id"]
	assert.False(t, hasUser)

	doc = QueryRecord{Question: "q", Response: "r", UserID: "u1", Date: now}.ToDocument()
	assert.Equal(t, "u1", doc["user_id"])
}
