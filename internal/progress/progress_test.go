package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpdateAndGet(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, State{
		SessionID:  "s1",
		Status:     "downloading",
		Progress:   10,
		TotalFiles: 3,
	}))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "downloading", got.Status)
	assert.Equal(t, 10, got.Progress)
	assert.Equal(t, 3, got.TotalFiles)
	assert.WithinDuration(t, time.Now(), got.LastUpdated, time.Second)
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore(10 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, State{SessionID: "s1", Status: "processing"}))
	time.Sleep(30 * time.Millisecond)

	_, err := s.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestMemoryStoreMarkComplete(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, State{SessionID: "s1", Status: "processing", Progress: 70}))
	require.NoError(t, s.MarkComplete(ctx, "s1"))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.True(t, got.Terminal())
}

func TestMemoryStoreMarkError(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, State{SessionID: "s1", Status: "processing"}))
	require.NoError(t, s.MarkError(ctx, "s1", "boom"))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.True(t, got.Terminal())
}

func TestMemoryStoreMarkMissingSession(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	assert.ErrorIs(t, s.MarkComplete(context.Background(), "nope"), ErrSessionNotFound)
	assert.ErrorIs(t, s.MarkError(context.Background(), "nope", "x"), ErrSessionNotFound)
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir(), time.Minute)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, State{
		SessionID: "s1",
		Status:    "transcribing",
		Progress:  70,
		FileList:  []string{"a.mp3", "b.mp3"},
	}))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "transcribing", got.Status)
	assert.Equal(t, []string{"a.mp3", "b.mp3"}, got.FileList)

	require.NoError(t, s.MarkComplete(ctx, "s1"))
	got, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestBadgerStoreNotFound(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir(), time.Minute)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
