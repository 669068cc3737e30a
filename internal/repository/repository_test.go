package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"foodshare-chat/internal/db"
	"foodshare-chat/internal/models"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRepoSuite exercises the MessageRepo contract against any backend.
// The backend must start empty.
func runRepoSuite(t *testing.T, newRepo func(t *testing.T) MessageRepo) {
	ctx := context.Background()

	t.Run("AppendAssignsIDAndSentAt", func(t *testing.T) {
		repo := newRepo(t)
		before := time.Now().Add(-time.Second)

		in := &models.Message{Sender: "alice", SenderName: "Alice", Recipient: models.GlobalRoom, Role: models.RoleDonor, Body: "hi"}
		m, err := repo.Append(ctx, in)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, m.ID)
		assert.True(t, m.SentAt.After(before))
		assert.Equal(t, models.GlobalRoom, m.Conversation)
		assert.Equal(t, models.KindText, m.Kind)
		assert.False(t, m.Read)
	})

	t.Run("RejectsInvalidMessage", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Append(ctx, &models.Message{Sender: "alice", Recipient: "bob", Kind: models.KindImage})
		assert.ErrorIs(t, err, models.ErrMissingAttachment)
	})

	t.Run("GlobalOrderingAndSearch", func(t *testing.T) {
		repo := newRepo(t)
		bodies := []string{"Fresh Bread at 5", "apples", "more bread tomorrow", "soup"}
		for _, b := range bodies {
			_, err := repo.Append(ctx, &models.Message{Sender: "alice", Recipient: models.GlobalRoom, Body: b})
			require.NoError(t, err)
		}
		_, err := repo.Append(ctx, &models.Message{Sender: "alice", Recipient: "bob", Body: "private bread"})
		require.NoError(t, err)

		all, err := repo.QueryGlobal(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, len(bodies))
		for i, m := range all {
			assert.Equal(t, bodies[i], m.Body)
			if i > 0 {
				assert.True(t, m.SentAt.After(all[i-1].SentAt), "sentAt must increase")
			}
		}

		hits, err := repo.QueryGlobal(ctx, "BREAD")
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "Fresh Bread at 5", hits[0].Body)
		assert.Equal(t, "more bread tomorrow", hits[1].Body)
	})

	t.Run("ConversationSymmetry", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Append(ctx, &models.Message{Sender: "alice", Recipient: "bob", Body: "hey"})
		require.NoError(t, err)
		_, err = repo.Append(ctx, &models.Message{Sender: "bob", Recipient: "alice", Body: "hello back"})
		require.NoError(t, err)
		_, err = repo.Append(ctx, &models.Message{Sender: "alice", Recipient: "carol", Body: "other thread"})
		require.NoError(t, err)

		ab, err := repo.QueryConversation(ctx, "alice", "bob", "")
		require.NoError(t, err)
		ba, err := repo.QueryConversation(ctx, "bob", "alice", "")
		require.NoError(t, err)

		require.Len(t, ab, 2)
		assert.Equal(t, ab, ba)
		assert.Equal(t, "hey", ab[0].Body)
		assert.Equal(t, "hello back", ab[1].Body)

		hits, err := repo.QueryConversation(ctx, "bob", "alice", "BACK")
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "bob", hits[0].Sender)
	})

	t.Run("AttachmentRoundTrip", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Append(ctx, &models.Message{
			Sender: "alice", Recipient: "bob", Kind: models.KindImage,
			Attachment: &models.Attachment{URL: "/uploads/1-bread.png", OriginalName: "bread.png"},
		})
		require.NoError(t, err)

		got, err := repo.QueryConversation(ctx, "alice", "bob", "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.NotNil(t, got[0].Attachment)
		assert.Equal(t, "bread.png", got[0].Attachment.OriginalName)
		assert.Equal(t, models.KindImage, got[0].Kind)
	})

	t.Run("MarkReadIsIdempotent", func(t *testing.T) {
		repo := newRepo(t)
		m, err := repo.Append(ctx, &models.Message{Sender: "alice", Recipient: "bob", Body: "hey"})
		require.NoError(t, err)

		first, err := repo.MarkRead(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, first.Read)
		assert.Equal(t, "alice", first.Sender)

		second, err := repo.MarkRead(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, second.Read)

		got, err := repo.QueryConversation(ctx, "bob", "alice", "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Read)
	})

	t.Run("MarkReadUnknownID", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.MarkRead(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func TestMemoryRepo(t *testing.T) {
	runRepoSuite(t, func(t *testing.T) MessageRepo {
		return NewMemoryRepo()
	})
}

func TestPebbleRepo(t *testing.T) {
	runRepoSuite(t, func(t *testing.T) MessageRepo {
		repo, err := OpenPebbleRepo("chat", &pebble.Options{FS: vfs.NewMem()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}

func TestPebbleRepoSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := OpenPebbleRepo(dir, nil)
	require.NoError(t, err)
	first, err := repo.Append(ctx, &models.Message{Sender: "alice", Recipient: "bob", Body: "before restart"})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = OpenPebbleRepo(dir, nil)
	require.NoError(t, err)
	defer repo.Close()

	second, err := repo.Append(ctx, &models.Message{Sender: "bob", Recipient: "alice", Body: "after restart"})
	require.NoError(t, err)
	assert.True(t, second.SentAt.After(first.SentAt))

	got, err := repo.QueryConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "before restart", got[0].Body)
}

func TestPebbleRepoRestoresClockOnOpen(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()
	future := time.Now().Add(time.Hour).UTC()

	repo, err := OpenPebbleRepo("chat", &pebble.Options{FS: fs})
	require.NoError(t, err)
	repo.clock.now = func() time.Time { return future }
	first, err := repo.Append(ctx, &models.Message{Sender: "alice", Recipient: models.GlobalRoom, Body: "from the future"})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = OpenPebbleRepo("chat", &pebble.Options{FS: fs})
	require.NoError(t, err)
	defer repo.Close()
	assert.True(t, repo.clock.last.Equal(first.SentAt))

	second, err := repo.Append(ctx, &models.Message{Sender: "bob", Recipient: models.GlobalRoom, Body: "now"})
	require.NoError(t, err)
	assert.True(t, second.SentAt.After(first.SentAt))

	got, err := repo.QueryGlobal(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "from the future", got[0].Body)
	assert.Equal(t, "now", got[1].Body)
}

func TestPebbleRepoClosedStore(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenPebbleRepo("chat", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	m, err := repo.Append(ctx, &models.Message{Sender: "alice", Recipient: models.GlobalRoom, Body: "hi"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				repo.Ping(ctx)
				repo.QueryGlobal(ctx, "")
			}
		}()
	}
	require.NoError(t, repo.Close())
	wg.Wait()

	assert.ErrorIs(t, repo.Ping(ctx), errPebbleClosed)
	_, err = repo.QueryGlobal(ctx, "")
	assert.ErrorIs(t, err, errPebbleClosed)
	_, err = repo.Append(ctx, &models.Message{Sender: "alice", Recipient: models.GlobalRoom, Body: "late"})
	assert.ErrorIs(t, err, errPebbleClosed)
	_, err = repo.MarkRead(ctx, m.ID)
	assert.ErrorIs(t, err, errPebbleClosed)
	assert.NoError(t, repo.Close())
}

func TestSentAtClockNeverGoesBackwards(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := sentAtClock{now: func() time.Time { return fixed }}

	a := c.next()
	b := c.next()
	assert.True(t, b.After(a))
}

func TestPostgresRepo(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	runRepoSuite(t, func(t *testing.T) MessageRepo {
		ctx := context.Background()
		pool, err := db.Connect(dsn)
		require.NoError(t, err)
		require.NoError(t, db.Migrate(ctx, pool))
		_, err = pool.Exec(ctx, "TRUNCATE chat_messages")
		require.NoError(t, err)
		t.Cleanup(pool.Close)
		return NewMessagesRepo(pool)
	})
}
