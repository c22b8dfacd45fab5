package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/annel0/wordle-server/internal/logging"
)

// NATSBus реализует EventBus поверх core NATS pub/sub.
// Без JetStream: доставка at-most-once, сообщения без подписчиков теряются.
type NATSBus struct {
	nc        *nats.Conn
	subject   string
	published uint64
	consumed  uint64
	dropped   uint64
}

// NewNATSBus подключается к NATS. subject: "wordle.share".
func NewNATSBus(url, subject string, opts ...nats.Option) (*NATSBus, error) {
	if subject == "" {
		subject = "wordle.share"
	}

	opts = append([]nats.Option{
		nats.Name("wordle-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn("⚠️ NATS: соединение потеряно: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("🔌 NATS: переподключение к %s", nc.ConnectedUrl())
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSBus{nc: nc, subject: subject}, nil
}

// Publish сериализует Envelope в JSON и публикует в subject шины.
func (nb *NATSBus) Publish(ctx context.Context, ev *Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := nb.nc.Publish(nb.subject, data); err != nil {
		atomic.AddUint64(&nb.dropped, 1)
		if err == nats.ErrConnectionClosed {
			return ErrBusClosed
		}
		return err
	}
	atomic.AddUint64(&nb.published, 1)
	return nil
}

// Subscribe подписывается на subject шины и фильтрует события локально.
func (nb *NATSBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	natSub, err := nb.nc.Subscribe(nb.subject, func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			atomic.AddUint64(&nb.dropped, 1)
			return
		}
		if !matchFilter(&ev, f) {
			return
		}
		h(ctx, &ev)
		atomic.AddUint64(&nb.consumed, 1)
	})
	if err != nil {
		return nil, err
	}

	return &natsSub{natSub}, nil
}

// natsSub обёртка вокруг *nats.Subscription чтобы удовлетворить наш интерфейс.
type natsSub struct {
	s *nats.Subscription
}

func (n *natsSub) Unsubscribe() {
	_ = n.s.Unsubscribe()
}

// Metrics возвращает текущие метрики.
func (nb *NATSBus) Metrics() Stats {
	return Stats{
		Published: atomic.LoadUint64(&nb.published),
		Consumed:  atomic.LoadUint64(&nb.consumed),
		Dropped:   atomic.LoadUint64(&nb.dropped),
		InFlight:  0, // очередь держит клиент NATS
	}
}

// Close дожидается отправки буфера и закрывает соединение.
func (nb *NATSBus) Close() error {
	if nb.nc.IsClosed() {
		return nil
	}
	return nb.nc.Drain()
}
