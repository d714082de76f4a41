package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/domain"
	"chat-relay/wire"
)

func startServer(t *testing.T, format PresenceFormat) string {
	t.Helper()
	log := slog.Default()
	registry := NewRegistry()
	router := NewRouter(log, registry, format, nil)
	srv := NewServer(log, router, registry, "127.0.0.1:0", 64, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop in time")
		}
	})

	require.Eventually(t, func() bool { return srv.Addr() != nil },
		time.Second, 10*time.Millisecond, "server never bound")
	return srv.Addr().String()
}

type testClient struct {
	conn net.Conn
	envs chan domain.Envelope
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	envs := make(chan domain.Envelope, 64)
	go func() {
		framer := wire.NewFramer(conn, 0)
		for {
			line, err := framer.Next()
			if err != nil {
				close(envs)
				return
			}
			env, err := wire.Decode(line)
			if err != nil {
				continue
			}
			envs <- env
		}
	}()

	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{conn: conn, envs: envs}
}

func (c *testClient) send(t *testing.T, env domain.Envelope) {
	t.Helper()
	frame, err := wire.Encode(env)
	require.NoError(t, err)
	_, err = c.conn.Write(frame)
	require.NoError(t, err)
}

func (c *testClient) join(t *testing.T, name string) {
	c.send(t, domain.Envelope{Type: domain.KindJoin, From: name})
}

func (c *testClient) nextOfKind(t *testing.T, kind domain.Kind) domain.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-c.envs:
			if !ok {
				t.Fatalf("stream closed while waiting for %q", kind)
			}
			if env.Type == kind {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", kind)
		}
	}
}

func (c *testClient) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case env, ok := <-c.envs:
		if ok {
			t.Fatalf("expected no delivery, got %+v", env)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

// userListNames waits for a userlist broadcast whose names-format payload
// has the wanted size and returns it decoded.
func (c *testClient) userListNames(t *testing.T, size int) []string {
	t.Helper()
	for {
		userlist := c.nextOfKind(t, domain.KindUserList)
		var names []string
		require.NoError(t, json.Unmarshal([]byte(userlist.Text), &names))
		if len(names) == size {
			return names
		}
	}
}

// uidOf resolves a display name through map-format userlist broadcasts.
func (c *testClient) uidOf(t *testing.T, name string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-c.envs:
			if !ok {
				t.Fatalf("stream closed while resolving %q", name)
			}
			if env.Type != domain.KindUserList {
				continue
			}
			var byUID map[string]string
			require.NoError(t, json.Unmarshal([]byte(env.Text), &byUID))
			for uid, n := range byUID {
				if n == name {
					return uid
				}
			}
		case <-deadline:
			t.Fatalf("timed out resolving uid of %q", name)
		}
	}
}

func TestServer_JoinScenario_SortedUserLists(t *testing.T) {
	req := require.New(t)
	addr := startServer(t, PresenceNames)

	alice := dialClient(t, addr)
	alice.join(t, "alice")
	req.Equal([]string{"alice"}, alice.userListNames(t, 1))

	bob := dialClient(t, addr)
	bob.join(t, "bob")

	// Both observe the membership sorted alphabetically.
	req.Equal([]string{"alice", "bob"}, alice.userListNames(t, 2))
	req.Equal([]string{"alice", "bob"}, bob.userListNames(t, 2))
}

func TestServer_PrivateMessage_EndToEnd(t *testing.T) {
	req := require.New(t)
	addr := startServer(t, PresenceMap)

	alice := dialClient(t, addr)
	alice.join(t, "alice")
	alice.nextOfKind(t, domain.KindUserList)
	bob := dialClient(t, addr)
	bob.join(t, "bob")
	bob.nextOfKind(t, domain.KindUserList)
	carol := dialClient(t, addr)
	carol.join(t, "carol")

	bobUID := alice.uidOf(t, "bob")
	carol.nextOfKind(t, domain.KindUserList)

	// When alice sends a private "hi" to bob's id
	alice.send(t, domain.Envelope{Type: domain.KindPrivateMsg, To: bobUID, Text: "hi"})

	// Then bob receives exactly one envelope from alice
	pm := bob.nextOfKind(t, domain.KindPrivateMsg)
	req.Equal("alice", pm.From)
	req.Equal("hi", pm.Text)

	// And alice an identical echo
	echo := alice.nextOfKind(t, domain.KindPrivateMsg)
	req.Equal(pm, echo)

	// And no other connected client sees it
	carol.expectSilence(t)
	bob.expectSilence(t)
}

func TestServer_PrivateMessage_UnknownTarget_ConnectionStaysUsable(t *testing.T) {
	req := require.New(t)
	addr := startServer(t, PresenceMap)

	alice := dialClient(t, addr)
	alice.join(t, "alice")
	bob := dialClient(t, addr)
	bob.join(t, "bob")
	bob.nextOfKind(t, domain.KindUserList)

	alice.send(t, domain.Envelope{Type: domain.KindPrivateMsg, To: "no-such-uid", Text: "hi"})
	bob.expectSilence(t)

	// The sender's connection survives the miss.
	alice.send(t, domain.Envelope{Type: domain.KindMsg, Text: "still alive"})
	msg := bob.nextOfKind(t, domain.KindMsg)
	req.Equal("still alive", msg.Text)
}

func TestServer_AbruptDisconnect_AnnouncesDeparture(t *testing.T) {
	req := require.New(t)
	addr := startServer(t, PresenceNames)

	alice := dialClient(t, addr)
	alice.join(t, "alice")
	bob := dialClient(t, addr)
	bob.join(t, "bob")
	bob.userListNames(t, 2)

	// When alice drops without a leave envelope
	req.NoError(alice.conn.Close())

	// Then the remaining client gets the notice and a membership without her
	sys := bob.nextOfKind(t, domain.KindSystem)
	req.Equal("alice left the chat", sys.Text)
	req.Equal([]string{"bob"}, bob.userListNames(t, 1))
}

func TestServer_ExplicitLeave_SingleDepartureAnnouncement(t *testing.T) {
	req := require.New(t)
	addr := startServer(t, PresenceNames)

	alice := dialClient(t, addr)
	alice.join(t, "alice")
	bob := dialClient(t, addr)
	bob.join(t, "bob")
	bob.userListNames(t, 2)

	// When alice leaves explicitly and her connection also closes,
	// overlapping the two cleanup paths
	alice.send(t, domain.Envelope{Type: domain.KindLeave})
	_ = alice.conn.Close()

	// Then exactly one departure notice goes out
	sys := bob.nextOfKind(t, domain.KindSystem)
	req.Equal("alice left the chat", sys.Text)
	bob.userListNames(t, 1)
	bob.expectSilence(t)
}

func TestServer_MalformedLine_SkippedWithoutDisconnect(t *testing.T) {
	req := require.New(t)
	addr := startServer(t, PresenceNames)

	alice := dialClient(t, addr)
	alice.join(t, "alice")
	bob := dialClient(t, addr)
	bob.join(t, "bob")
	bob.userListNames(t, 2)

	// When alice's stream carries a broken line between valid ones
	_, err := alice.conn.Write([]byte("this is not json\n"))
	req.NoError(err)
	alice.send(t, domain.Envelope{Type: domain.KindMsg, Text: "after garbage"})

	// Then the bad line is skipped and the connection stays open
	msg := bob.nextOfKind(t, domain.KindMsg)
	req.Equal("after garbage", msg.Text)
}

func TestServer_Timestamps_AreServerStamped(t *testing.T) {
	req := require.New(t)
	addr := startServer(t, PresenceMap)

	alice := dialClient(t, addr)
	alice.join(t, "alice")

	before := time.Now().UTC().Unix()
	alice.send(t, domain.Envelope{Type: domain.KindMsg, Text: "tick", Ts: 1234})
	msg := alice.nextOfKind(t, domain.KindMsg)

	req.GreaterOrEqual(msg.Ts, before)
	req.NotEqual(int64(1234), msg.Ts)
}

// failingListener accepts nothing, simulating resource exhaustion on a
// bound socket.
type failingListener struct {
	net.Listener
}

func (l *failingListener) Accept() (net.Conn, error) {
	return nil, fmt.Errorf("accept: too many open files")
}

func TestServer_ReleasesAddressWhenAcceptFails(t *testing.T) {
	req := require.New(t)

	// Given a bound listener whose accepts fail for a reason other than
	// shutdown
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	addr := inner.Addr().String()

	log := slog.Default()
	registry := NewRegistry()
	router := NewRouter(log, registry, PresenceMap, nil)
	srv := NewServer(log, router, registry, addr, 64, 0)

	// When the accept loop exits with the failure
	err = srv.serve(context.Background(), &failingListener{Listener: inner})
	req.ErrorContains(err, "accepting connection")

	// Then the address is already free for the next run to rebind
	rebound, err := net.Listen("tcp", addr)
	req.NoError(err)
	req.NoError(rebound.Close())
}
