package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/switchboard/pkg/switchboard/ids"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.Create(ctx, "Planning")
	require.NoError(t, err)
	assert.True(t, ids.HasPrefix(created.SessionID, ids.SessionPrefix))
	assert.Equal(t, "Planning", created.Title)
	assert.Empty(t, created.Messages)

	got, err := s.Get(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, created.SessionID, got.SessionID)
	assert.Equal(t, "Planning", got.Title)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	assert.NotNil(t, got.Messages)
}

func TestGetMissing(t *testing.T) {
	_, err := newTestStore(t).Get(context.Background(), "s_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.GetOrCreate(ctx, "s_main", "Main")
	require.NoError(t, err)
	assert.Equal(t, "Main", first.Title)

	second, err := s.GetOrCreate(ctx, "s_main", "Other")
	require.NoError(t, err)
	assert.Equal(t, "Main", second.Title, "existing session is not retitled")
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.Create(ctx, "Old")
	require.NoError(t, err)

	renamed, err := s.Rename(ctx, created.SessionID, "New")
	require.NoError(t, err)
	assert.Equal(t, "New", renamed.Title)

	_, err = s.Rename(ctx, "s_missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("creates the session on demand", func(t *testing.T) {
		msg, err := s.AddMessage(ctx, "s_auto", RoleUser, "hello")
		require.NoError(t, err)
		assert.True(t, ids.HasPrefix(msg.MessageID, ids.MessagePrefix))
		assert.Equal(t, "s_auto", msg.SessionID)

		session, err := s.Get(ctx, "s_auto")
		require.NoError(t, err)
		assert.Equal(t, DefaultTitle, session.Title)
		require.Len(t, session.Messages, 1)
		assert.Equal(t, "hello", session.Messages[0].Text)
		assert.Equal(t, RoleUser, session.Messages[0].Role)
	})

	t.Run("keeps transcript order", func(t *testing.T) {
		for _, text := range []string{"one", "two", "three"} {
			_, err := s.AddMessage(ctx, "s_order", RoleAssistant, text)
			require.NoError(t, err)
		}

		session, err := s.Get(ctx, "s_order")
		require.NoError(t, err)
		require.Len(t, session.Messages, 3)
		assert.Equal(t, "one", session.Messages[0].Text)
		assert.Equal(t, "three", session.Messages[2].Text)
	})

	t.Run("rejects unknown roles", func(t *testing.T) {
		_, err := s.AddMessage(ctx, "s_auto", Role("robot"), "beep")
		assert.Error(t, err)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	empty, err := s.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	a, err := s.Create(ctx, "A")
	require.NoError(t, err)
	b, err := s.Create(ctx, "B")
	require.NoError(t, err)

	_, err = s.AddMessage(ctx, b.SessionID, RoleUser, "hi")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, b.SessionID, RoleAssistant, "hello")
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, a.SessionID, list[0].SessionID)
	assert.Equal(t, 0, list[0].MessageCount)
	assert.Equal(t, b.SessionID, list[1].SessionID)
	assert.Equal(t, 2, list[1].MessageCount)
	assert.WithinDuration(t, time.Now(), list[1].CreatedAt, time.Minute)
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := s.AddMessage(ctx, "s_busy", RoleUser, "x")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	session, err := s.Get(ctx, "s_busy")
	require.NoError(t, err)
	assert.Len(t, session.Messages, 80)
}

func TestFileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	created, err := s.Create(ctx, "Durable")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Durable", got.Title)
}
