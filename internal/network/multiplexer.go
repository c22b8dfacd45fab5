package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/annel0/wordle-server/internal/logging"
	"github.com/annel0/wordle-server/internal/metrics"
	"github.com/annel0/wordle-server/internal/protocol"
)

// Submitter принимает кадр запроса на обработку. Не должен блокировать:
// при отказе ответ не будет отправлен через reply.
type Submitter interface {
	Submit(sessionID string, frame []byte, reply func(*protocol.Response)) error
}

// SessionCloser завершает сессии пользователей при обрыве соединения
type SessionCloser interface {
	LogoutBySession(sessionID string) []string
}

// Multiplexer TCP-сервер с одним циклом событий, владеющим состоянием всех соединений
type Multiplexer struct {
	listener net.Listener
	handler  Submitter
	sessions SessionCloser

	events chan event
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	stop   sync.Once

	active atomic.Int64
	logger *logging.Logger
}

// Listen открывает TCP-порт и создаёт мультиплексор
func Listen(addr string, handler Submitter, sessions SessionCloser) (*Multiplexer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return NewMultiplexer(ln, handler, sessions), nil
}

// NewMultiplexer создаёт мультиплексор поверх готового listener
func NewMultiplexer(ln net.Listener, handler Submitter, sessions SessionCloser) *Multiplexer {
	return &Multiplexer{
		listener: ln,
		handler:  handler,
		sessions: sessions,
		events:   make(chan event, 1024),
		quit:     make(chan struct{}),
		logger:   logging.GetNetworkLogger(),
	}
}

// Addr адрес listener
func (m *Multiplexer) Addr() net.Addr {
	return m.listener.Addr()
}

// Connections количество открытых соединений
func (m *Multiplexer) Connections() int {
	return int(m.active.Load())
}

// Start запускает приём соединений и цикл событий
func (m *Multiplexer) Start() {
	m.wg.Add(2)
	go m.acceptLoop()
	go m.eventLoop()
	m.logger.Info("🚀 TCP сервер слушает %s", m.listener.Addr())
}

// Attach передаёт ответ воркера циклу событий. Безопасен для вызова из любой горутины.
func (m *Multiplexer) Attach(sessionID string, resp *protocol.Response) {
	m.post(event{kind: evReply, sessionID: sessionID, resp: resp})
}

func (m *Multiplexer) post(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.quit:
		return false
	}
}

func (m *Multiplexer) acceptLoop() {
	defer m.wg.Done()

	for {
		nc, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.logger.Warn("Ошибка принятия соединения: %v", err)
			continue
		}

		c := newClientConn(uuid.NewString(), nc)
		if !m.post(event{kind: evAccepted, sessionID: c.id, conn: c}) {
			nc.Close()
			return
		}
	}
}

// eventLoop единственная горутина, меняющая состояние соединений.
// Доменную логику не выполняет: кадры уходят в пул, ответы приходят через Attach.
func (m *Multiplexer) eventLoop() {
	defer m.wg.Done()

	conns := make(map[string]*clientConn)
	defer func() {
		for _, c := range conns {
			m.closeConn(conns, c, nil, false)
		}
	}()

	for {
		select {
		case <-m.quit:
			return
		case ev := <-m.events:
			m.handleEvent(conns, ev)
		}
	}
}

func (m *Multiplexer) handleEvent(conns map[string]*clientConn, ev event) {
	switch ev.kind {
	case evAccepted:
		c := ev.conn
		conns[c.id] = c
		c.state = stateAwaitingRead
		m.active.Add(1)
		metrics.ConnectionsActive.Inc()
		metrics.ConnectionsTotal.Inc()
		m.logger.Debug("Новое соединение %s от %s", c.id, c.nc.RemoteAddr())
		go c.serve(m.post)

	case evFrame:
		c, ok := conns[ev.sessionID]
		if !ok || c.state != stateAwaitingRead {
			return
		}
		if ev.err != nil {
			m.logger.Warn("⚠️ Сессия %s: %v", c.id, ev.err)
			m.respond(c, protocol.NewResponse(protocol.CodeBadRequest))
			return
		}
		c.state = stateDispatched
		id := c.id
		if err := m.handler.Submit(id, ev.frame, func(resp *protocol.Response) { m.Attach(id, resp) }); err != nil {
			m.logger.Warn("⚠️ Запрос сессии %s отклонён: %v", id, err)
			m.respond(c, protocol.NewResponse(protocol.CodeInternalServerError))
		}

	case evReply:
		c, ok := conns[ev.sessionID]
		if !ok || c.state != stateDispatched {
			// соединение закрылось, пока воркер работал
			return
		}
		m.respond(c, ev.resp)

	case evWritten:
		if c, ok := conns[ev.sessionID]; ok && c.state == stateAwaitingWrite {
			c.state = stateAwaitingRead
		}

	case evClosed:
		if c, ok := conns[ev.sessionID]; ok {
			m.closeConn(conns, c, ev.err, true)
		}
	}
}

// respond кодирует ответ и передаёт его I/O-горутине соединения
func (m *Multiplexer) respond(c *clientConn, resp *protocol.Response) {
	if resp == nil {
		resp = protocol.NewResponse(protocol.CodeInternalServerError)
	}
	payload, err := protocol.EncodeResponse(resp)
	if err != nil {
		m.logger.Error("❌ Не удалось закодировать ответ для %s: %v", c.id, err)
		payload, _ = protocol.EncodeResponse(protocol.NewResponse(protocol.CodeInternalServerError))
	}
	c.state = stateAwaitingWrite
	// буфер out на один ответ, а запрос в работе всегда один
	c.out <- payload
}

func (m *Multiplexer) closeConn(conns map[string]*clientConn, c *clientConn, cause error, logout bool) {
	if c.state == stateClosed {
		return
	}
	prev := c.state
	c.state = stateClosed
	close(c.done)
	c.nc.Close()
	delete(conns, c.id)
	m.active.Add(-1)
	metrics.ConnectionsActive.Dec()

	m.logger.Debug("Соединение %s закрыто (%s): %v", c.id, prev, cause)

	if logout && m.sessions != nil {
		for _, username := range m.sessions.LogoutBySession(c.id) {
			m.logger.Info("🔌 %s отключился без LOGOUT", username)
		}
	}
}

// StopAccepting закрывает listener. Открытые соединения продолжают обслуживаться.
func (m *Multiplexer) StopAccepting() {
	m.stop.Do(func() {
		m.listener.Close()
	})
}

// Shutdown прекращает приём соединений и закрывает все открытые
func (m *Multiplexer) Shutdown(ctx context.Context) error {
	m.StopAccepting()
	m.once.Do(func() {
		close(m.quit)
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("🛑 TCP сервер остановлен")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
