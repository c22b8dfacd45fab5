package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/wordle-server/internal/logging"
	"github.com/annel0/wordle-server/internal/protocol"
)

const (
	pushWriteWait  = 10 * time.Second
	pushPongWait   = 60 * time.Second
	pushPingPeriod = (pushPongWait * 9) / 10
	pushQueueSize  = 64
	pushReadLimit  = 512
)

var (
	ErrPushClosed    = errors.New("push channel closed")
	ErrPushQueueFull = errors.New("push queue full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// pushConn websocket-канал одного пользователя. Push не блокирует воркер:
// сообщение кладётся в очередь, запись выполняет writePump.
type pushConn struct {
	username string
	conn     *websocket.Conn
	send     chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	logger *logging.Logger
}

func newPushConn(username string, conn *websocket.Conn, logger *logging.Logger) *pushConn {
	conn.SetReadLimit(pushReadLimit)
	return &pushConn{
		username: username,
		conn:     conn,
		send:     make(chan []byte, pushQueueSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Push ставит сообщение в очередь отправки
func (p *pushConn) Push(msg *protocol.PushMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPushClosed
	}
	select {
	case p.send <- data:
		return nil
	default:
		return ErrPushQueueFull
	}
}

// Close останавливает канал: writePump отправит close-кадр и закроет соединение
func (p *pushConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return nil
}

// readPump читает только служебные кадры, чтобы получать pong и close
func (p *pushConn) readPump() {
	defer p.Close()

	_ = p.conn.SetReadDeadline(time.Now().Add(pushPongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pushPongWait))
	})

	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Debug("Push-канал %s: %v", p.username, err)
			}
			return
		}
	}
}

// writePump единственный писатель в соединение, закрывает его при выходе
func (p *pushConn) writePump() {
	ticker := time.NewTicker(pushPingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.Close()
		_ = p.conn.Close()
	}()

	for {
		select {
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("Запись в push-канал %s: %v", p.username, err)
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(pushWriteWait))
			return
		}
	}
}
