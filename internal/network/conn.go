package network

import (
	"errors"
	"net"

	"github.com/annel0/wordle-server/internal/protocol"
)

// connState состояние соединения. Меняется только в цикле событий.
type connState int

const (
	stateAccepted connState = iota
	stateAwaitingRead
	stateDispatched
	stateAwaitingWrite
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAccepted:
		return "ACCEPTED"
	case stateAwaitingRead:
		return "AWAITING_READ"
	case stateDispatched:
		return "DISPATCHED"
	case stateAwaitingWrite:
		return "AWAITING_WRITE"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type eventKind int

const (
	evAccepted eventKind = iota
	evFrame
	evReply
	evWritten
	evClosed
)

// event сообщение циклу событий от accept-горутины, I/O-горутин и воркеров
type event struct {
	kind      eventKind
	sessionID string
	conn      *clientConn
	frame     []byte
	resp      *protocol.Response
	err       error
}

// clientConn соединение клиента. I/O-горутина читает кадр, отдаёт его циклу
// и не читает снова, пока цикл не передаст ей ответ для записи.
type clientConn struct {
	id    string
	nc    net.Conn
	state connState
	out   chan []byte
	done  chan struct{}
}

func newClientConn(id string, nc net.Conn) *clientConn {
	return &clientConn{
		id:    id,
		nc:    nc,
		state: stateAccepted,
		out:   make(chan []byte, 1),
		done:  make(chan struct{}),
	}
}

func (c *clientConn) serve(post func(event) bool) {
	for {
		frame, err := protocol.ReadFrame(c.nc)
		switch {
		case errors.Is(err, protocol.ErrFrameTooLarge):
			// кадр уже пропущен, цикл ответит BAD_REQUEST
			if !post(event{kind: evFrame, sessionID: c.id, err: err}) {
				return
			}
		case err != nil:
			post(event{kind: evClosed, sessionID: c.id, err: err})
			return
		default:
			if !post(event{kind: evFrame, sessionID: c.id, frame: frame}) {
				return
			}
		}

		select {
		case payload := <-c.out:
			if err := protocol.WriteFrame(c.nc, payload); err != nil {
				post(event{kind: evClosed, sessionID: c.id, err: err})
				return
			}
			if !post(event{kind: evWritten, sessionID: c.id}) {
				return
			}
		case <-c.done:
			return
		}
	}
}
