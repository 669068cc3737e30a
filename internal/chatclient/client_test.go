package chatclient

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"foodshare-chat/internal/api"
	"foodshare-chat/internal/auth"
	"foodshare-chat/internal/chat"
	"foodshare-chat/internal/models"
	"foodshare-chat/internal/repository"
	"foodshare-chat/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := repository.NewMemoryRepo()
	hub := chat.NewHub(store, chat.Options{})
	go hub.Run()

	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Hub:            hub,
		Store:          store,
		Resolver:       auth.NewResolver(""),
		AllowedOrigins: []string{"*"},
	}))
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return srv
}

func connect(t *testing.T, srv *httptest.Server, opts Options) *Controller {
	t.Helper()
	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func onlineIDs(c *Controller) []string {
	var ids []string
	for _, p := range c.OnlineUsers() {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestOptimisticSendIsReconciled(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, Options{UserID: "alice", Role: "donor"})

	ref, err := alice.SendGlobal(Draft{Body: "soup's on"})
	require.NoError(t, err)

	thread := alice.Thread(models.GlobalRoom)
	require.NotEmpty(t, thread)
	assert.Equal(t, ref, thread[0].ClientRef)

	assert.Eventually(t, func() bool {
		th := alice.Thread(models.GlobalRoom)
		return len(th) == 1 && !th[0].Pending && th[0].ID != ""
	}, waitFor, tick)

	final := alice.Thread(models.GlobalRoom)[0]
	assert.Equal(t, "soup's on", final.Body)
	assert.Equal(t, models.RoleDonor, final.Role)
	assert.Equal(t, ref, final.ClientRef)
}

func TestPrivateThreadsAndReadReceipts(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, Options{UserID: "alice"})
	bob := connect(t, srv, Options{UserID: "bob"})

	assert.Eventually(t, func() bool { return len(alice.OnlineUsers()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"alice", "bob"}, onlineIDs(alice))

	_, err := alice.SendPrivate("bob", Draft{Body: "pickup at 5?"})
	require.NoError(t, err)

	var incoming Entry
	assert.Eventually(t, func() bool {
		th := bob.Thread("alice")
		if len(th) != 1 {
			return false
		}
		incoming = th[0]
		return true
	}, waitFor, tick)
	assert.Equal(t, "alice", incoming.OtherUser)
	assert.False(t, incoming.Read)

	require.NoError(t, bob.MarkRead(incoming.ID, "alice"))

	assert.Eventually(t, func() bool {
		th := alice.Thread("bob")
		return len(th) == 1 && !th[0].Pending && th[0].Read
	}, waitFor, tick)
	assert.Empty(t, alice.Thread(models.GlobalRoom))
}

func TestTypingIndicatorStopsAfterIdle(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, Options{UserID: "alice", TypingIdle: 150 * time.Millisecond})
	bob := connect(t, srv, Options{UserID: "bob", TypingTimeout: time.Minute})

	require.NoError(t, alice.Typing("bob"))
	require.NoError(t, alice.Typing("bob"))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"alice"}, bob.TypingIn("alice"))
	}, waitFor, tick)
	assert.Empty(t, bob.TypingIn(models.GlobalRoom))

	assert.Eventually(t, func() bool { return len(bob.TypingIn("alice")) == 0 }, waitFor, tick)
}

func TestRemoteTypingExpires(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, Options{UserID: "alice", TypingIdle: time.Minute})
	bob := connect(t, srv, Options{UserID: "bob", TypingTimeout: 200 * time.Millisecond})

	require.NoError(t, alice.Typing(""))

	assert.Eventually(t, func() bool { return len(bob.TypingIn(models.GlobalRoom)) == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return len(bob.TypingIn(models.GlobalRoom)) == 0 }, waitFor, tick)
}

func TestMessageClearsTypingAndEventsStream(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, Options{UserID: "alice", TypingIdle: time.Minute})
	bob := connect(t, srv, Options{UserID: "bob"})

	require.NoError(t, alice.Typing(""))
	assert.Eventually(t, func() bool { return len(bob.TypingIn(models.GlobalRoom)) == 1 }, waitFor, tick)

	_, err := alice.SendGlobal(Draft{Body: "done typing"})
	require.NoError(t, err)

	deadline := time.After(waitFor)
	for {
		select {
		case env := <-bob.Events():
			if env.Type == types.EventChatMessage {
				assert.Empty(t, bob.TypingIn(models.GlobalRoom))
				return
			}
		case <-deadline:
			t.Fatal("bob never saw the message")
		}
	}
}

func TestTypingWhileSendingKeepsEveryMessage(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, Options{UserID: "alice", TypingIdle: time.Minute})

	const n = 6
	for i := 0; i < n; i++ {
		require.NoError(t, alice.Typing(""))
		_, err := alice.SendGlobal(Draft{Body: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		th := alice.Thread(models.GlobalRoom)
		if len(th) != n {
			return false
		}
		for _, e := range th {
			if e.Pending {
				return false
			}
		}
		return true
	}, waitFor, tick)

	views, err := History(context.Background(), nil, srv.URL, "", models.GlobalRoom, "")
	require.NoError(t, err)
	require.Len(t, views, n)
	for i, v := range views {
		assert.Equal(t, fmt.Sprintf("msg %d", i), v.Body)
	}
}

func TestSendPrivateRejectsBadRecipient(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, Options{UserID: "alice"})

	_, err := alice.SendPrivate("global", Draft{Body: "x"})
	assert.ErrorIs(t, err, models.ErrInvalidIdentity)
	assert.Empty(t, alice.Thread("global"))
}

func TestCloseEndsSession(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, Options{UserID: "alice"})

	require.NoError(t, alice.Close())
	select {
	case <-alice.Done():
	case <-time.After(waitFor):
		t.Fatal("read loop still running")
	}
	assert.NoError(t, alice.Err())

	_, err := alice.SendGlobal(Draft{Body: "too late"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHistoryHelper(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, Options{UserID: "alice"})

	_, err := alice.SendPrivate("bob", Draft{Body: "leftover rice"})
	require.NoError(t, err)
	_, err = alice.SendGlobal(Draft{Body: "hello"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(alice.Thread(models.GlobalRoom)) == 1 && !alice.Thread(models.GlobalRoom)[0].Pending }, waitFor, tick)

	views, err := History(context.Background(), nil, srv.URL, "bob", "alice", "")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "alice", views[0].OtherUser)

	views, err = History(context.Background(), nil, srv.URL, "", models.GlobalRoom, "HELLO")
	require.NoError(t, err)
	require.Len(t, views, 1)

	_, err = History(context.Background(), nil, srv.URL, "global", "bob", "")
	assert.Error(t, err)
}
