package network

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/annel0/wordle-server/internal/auth"
	"github.com/annel0/wordle-server/internal/dispatch"
	"github.com/annel0/wordle-server/internal/game"
	"github.com/annel0/wordle-server/internal/protocol"
	"github.com/annel0/wordle-server/internal/word"
)

type stubSubmitter struct {
	mu       sync.Mutex
	calls    int
	saturate atomic.Bool
	hold     chan struct{}
}

func (s *stubSubmitter) Submit(sessionID string, frame []byte, reply func(*protocol.Response)) error {
	if s.saturate.Load() {
		return dispatch.ErrPoolSaturated
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	go func() {
		if s.hold != nil {
			<-s.hold
		}
		reply(protocol.NewResponse(protocol.CodeOK))
	}()
	return nil
}

func (s *stubSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubSessions struct {
	mu  sync.Mutex
	ids []string
}

func (s *stubSessions) LogoutBySession(id string) []string {
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
	return nil
}

func (s *stubSessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func startMux(t *testing.T, sub Submitter, sessions SessionCloser) *Multiplexer {
	t.Helper()
	m, err := Listen("127.0.0.1:0", sub, sessions)
	require.NoError(t, err)
	m.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func dial(t *testing.T, m *Multiplexer) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", m.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, c net.Conn, req protocol.Request) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteFrame(c, data))
}

func recv(t *testing.T, c net.Conn) *protocol.Response {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, err := protocol.ReadFrame(c)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponse(data)
	require.NoError(t, err)
	return resp
}

func call(t *testing.T, c net.Conn, req protocol.Request) *protocol.Response {
	t.Helper()
	send(t, c, req)
	return recv(t, c)
}

func TestRequestResponse(t *testing.T) {
	sub := &stubSubmitter{}
	m := startMux(t, sub, &stubSessions{})
	c := dial(t, m)

	for i := 0; i < 3; i++ {
		assert.Equal(t, protocol.CodeOK, call(t, c, protocol.Request{Command: protocol.CmdStats, Username: "ann"}).Code)
	}
	assert.Equal(t, 3, sub.count())
	assert.Equal(t, 1, m.Connections())
}

func TestSaturationKeepsConnectionUsable(t *testing.T) {
	sub := &stubSubmitter{}
	sub.saturate.Store(true)
	m := startMux(t, sub, &stubSessions{})
	c := dial(t, m)

	resp := call(t, c, protocol.Request{Command: protocol.CmdStats, Username: "ann"})
	assert.Equal(t, protocol.CodeInternalServerError, resp.Code)

	sub.saturate.Store(false)
	resp = call(t, c, protocol.Request{Command: protocol.CmdStats, Username: "ann"})
	assert.Equal(t, protocol.CodeOK, resp.Code)
}

func TestOneOutstandingRequestPerConnection(t *testing.T) {
	sub := &stubSubmitter{hold: make(chan struct{})}
	m := startMux(t, sub, &stubSessions{})
	c := dial(t, m)

	send(t, c, protocol.Request{Command: protocol.CmdStats, Username: "ann"})
	send(t, c, protocol.Request{Command: protocol.CmdStats, Username: "ann"})

	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, sub.count(), "второй кадр не читается до ответа на первый")

	close(sub.hold)
	assert.Equal(t, protocol.CodeOK, recv(t, c).Code)
	assert.Equal(t, protocol.CodeOK, recv(t, c).Code)
	assert.Equal(t, 2, sub.count())
}

func TestDisconnectCallsLogout(t *testing.T) {
	sessions := &stubSessions{}
	m := startMux(t, &stubSubmitter{}, sessions)
	c := dial(t, m)

	require.Eventually(t, func() bool { return m.Connections() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool { return sessions.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return m.Connections() == 0 }, time.Second, 5*time.Millisecond)
}

func TestOversizedFrameGetsBadRequest(t *testing.T) {
	sessions := &stubSessions{}
	sub := &stubSubmitter{}
	m := startMux(t, sub, sessions)
	c := dial(t, m)

	var header [protocol.HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], protocol.MaxFrameSize+1)
	_, err := c.Write(append(header[:], make([]byte, protocol.MaxFrameSize+1)...))
	require.NoError(t, err)

	assert.Equal(t, protocol.CodeBadRequest, recv(t, c).Code)
	assert.Equal(t, 0, sub.count())

	// соединение остаётся рабочим
	assert.Equal(t, protocol.CodeOK, call(t, c, protocol.Request{Command: protocol.CmdStats, Username: "ann"}).Code)
	assert.Equal(t, 0, sessions.len())
	assert.Equal(t, 1, m.Connections())
}

func TestFrameLengthOverflowClosesConnection(t *testing.T) {
	sessions := &stubSessions{}
	m := startMux(t, &stubSubmitter{}, sessions)
	c := dial(t, m)

	_, err := c.Write([]byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = protocol.ReadFrame(c)
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return sessions.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestShutdownClosesClients(t *testing.T) {
	m, err := Listen("127.0.0.1:0", &stubSubmitter{}, &stubSessions{})
	require.NoError(t, err)
	m.Start()
	c := dial(t, m)
	require.Eventually(t, func() bool { return m.Connections() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = protocol.ReadFrame(c)
	assert.Error(t, err)

	_, err = net.DialTimeout("tcp", m.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestStopAcceptingKeepsOpenConnections(t *testing.T) {
	m := startMux(t, &stubSubmitter{}, &stubSessions{})
	c := dial(t, m)
	require.Equal(t, protocol.CodeOK, call(t, c, protocol.Request{Command: protocol.CmdStats, Username: "ann"}).Code)

	m.StopAccepting()
	m.StopAccepting()

	_, err := net.DialTimeout("tcp", m.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, protocol.CodeOK, call(t, c, protocol.Request{Command: protocol.CmdStats, Username: "ann"}).Code)
}

func TestAbruptDisconnectLogsUserOut(t *testing.T) {
	dict, err := word.NewDictionary([]string{"basketball", "strawberry"})
	require.NoError(t, err)
	oracle := word.NewOracle(dict, nil)
	oracle.RotateIfExpired(time.Now(), time.Hour)

	store := game.NewStore(&auth.BcryptCredential{Cost: bcrypt.MinCost})
	require.NoError(t, store.Register("ann", "pw"))

	pool := dispatch.NewWorkerPool(2, 2)
	defer pool.Stop(time.Second)
	d := dispatch.NewDispatcher(dispatch.Config{Store: store, Oracle: oracle, Pool: pool, WordLifetime: time.Hour})

	m := startMux(t, d, store)
	c := dial(t, m)

	require.Equal(t, protocol.CodeOK, call(t, c, protocol.Request{Command: protocol.CmdLogin, Username: "ann", Arguments: []string{"pw"}}).Code)
	require.Equal(t, protocol.CodeOK, call(t, c, protocol.Request{Command: protocol.CmdPlayRound, Username: "ann"}).Code)

	// второй пользователь на том же соединении не входит
	require.NoError(t, store.Register("bob", "pw"))
	assert.Equal(t, protocol.CodeAlreadyLoggedIn, call(t, c, protocol.Request{Command: protocol.CmdLogin, Username: "bob", Arguments: []string{"pw"}}).Code)
	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool {
		u, _ := store.User("ann")
		return !u.Online
	}, time.Second, 5*time.Millisecond)

	// после обрыва можно войти снова с нового соединения
	c2 := dial(t, m)
	assert.Equal(t, protocol.CodeOK, call(t, c2, protocol.Request{Command: protocol.CmdLogin, Username: "ann", Arguments: []string{"pw"}}).Code)
	assert.Equal(t, protocol.CodeGameAlreadyPlayed, call(t, c2, protocol.Request{Command: protocol.CmdPlayRound, Username: "ann"}).Code)

	c3 := dial(t, m)
	assert.Equal(t, protocol.CodeOK, call(t, c3, protocol.Request{Command: protocol.CmdLogin, Username: "bob", Arguments: []string{"pw"}}).Code)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "DISPATCHED", stateDispatched.String())
	assert.Equal(t, "UNKNOWN", connState(42).String())
}
