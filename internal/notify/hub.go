package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/annel0/wordle-server/internal/eventbus"
	"github.com/annel0/wordle-server/internal/game"
	"github.com/annel0/wordle-server/internal/logging"
	"github.com/annel0/wordle-server/internal/metrics"
	"github.com/annel0/wordle-server/internal/protocol"
)

// EventRoundShared тип события группы о сыгранном раунде
const EventRoundShared = "RoundShared"

// Handle push-канал одного пользователя. Push может вызываться
// одновременно из нескольких воркеров.
type Handle interface {
	Push(msg *protocol.PushMessage) error
}

// RankSource источник текущего рейтинга
type RankSource interface {
	Rank() []game.RankEntry
}

// Hub реестр push-каналов и рассылка группе
type Hub struct {
	mu      sync.RWMutex
	handles map[string]Handle

	ranks  RankSource
	bus    eventbus.EventBus
	source string
	sub    eventbus.Subscription
	logger *logging.Logger
}

// NewHub создаёт хаб. source - имя узла в конвертах шины.
func NewHub(ranks RankSource, bus eventbus.EventBus, source string) *Hub {
	return &Hub{
		handles: make(map[string]Handle),
		ranks:   ranks,
		bus:     bus,
		source:  source,
		logger:  logging.GetNotifyLogger(),
	}
}

// Subscribe регистрирует канал пользователя вместо прежнего
// и сразу отправляет ему текущий рейтинг.
func (h *Hub) Subscribe(username string, handle Handle) {
	h.mu.Lock()
	_, replaced := h.handles[username]
	h.handles[username] = handle
	count := len(h.handles)
	h.mu.Unlock()

	metrics.PushSubscribers.Set(float64(count))
	if replaced {
		h.logger.Debug("Push-канал %s заменён", username)
	}

	var rank []game.RankEntry
	if h.ranks != nil {
		rank = h.ranks.Rank()
	}
	h.deliver(username, handle, &protocol.PushMessage{Type: protocol.PushRank, Rank: rank})
}

// Unsubscribe удаляет канал пользователя и закрывает его, если канал это умеет.
// Неизвестное имя игнорируется.
func (h *Hub) Unsubscribe(username string) {
	h.mu.Lock()
	handle, ok := h.handles[username]
	delete(h.handles, username)
	count := len(h.handles)
	h.mu.Unlock()

	metrics.PushSubscribers.Set(float64(count))
	if !ok {
		return
	}
	if c, closable := handle.(io.Closer); closable {
		if err := c.Close(); err != nil {
			h.logger.Debug("Закрытие push-канала %s: %v", username, err)
		}
	}
}

// Release удаляет канал, только если он всё ещё зарегистрирован за пользователем.
// Закрывающийся старый канал не должен снять подписку нового.
func (h *Hub) Release(username string, handle Handle) {
	h.mu.Lock()
	if cur, ok := h.handles[username]; ok && cur == handle {
		delete(h.handles, username)
	}
	count := len(h.handles)
	h.mu.Unlock()

	metrics.PushSubscribers.Set(float64(count))
}

// Subscribers количество зарегистрированных каналов
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handles)
}

// BroadcastRank отправляет рейтинг всем каналам. Ошибка одного канала
// логируется и не мешает доставке остальным.
func (h *Hub) BroadcastRank(rank []game.RankEntry) {
	h.broadcast(&protocol.PushMessage{Type: protocol.PushRank, Rank: rank})
}

func (h *Hub) broadcast(msg *protocol.PushMessage) {
	h.mu.RLock()
	targets := make(map[string]Handle, len(h.handles))
	for name, handle := range h.handles {
		targets[name] = handle
	}
	h.mu.RUnlock()

	for name, handle := range targets {
		h.deliver(name, handle, msg)
	}
}

func (h *Hub) deliver(username string, handle Handle, msg *protocol.PushMessage) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PushDeliveries.WithLabelValues("failed").Inc()
			h.logger.Error("Паника при доставке %s для %s: %v", msg.Type, username, r)
		}
	}()

	if err := handle.Push(msg); err != nil {
		metrics.PushDeliveries.WithLabelValues("failed").Inc()
		h.logger.Warn("⚠️ Не удалось доставить %s пользователю %s: %v", msg.Type, username, err)
		return
	}
	metrics.PushDeliveries.WithLabelValues("ok").Inc()
}

// ShareRound публикует результат раунда всей группе, включая отправителя.
// Доставка at-most-once без подтверждения.
func (h *Hub) ShareRound(ctx context.Context, payload protocol.SharePayload) error {
	if h.bus == nil {
		return fmt.Errorf("share round: event bus not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("share round: %w", err)
	}
	ev := eventbus.NewEnvelope(h.source, EventRoundShared, data)
	ev.CorrelationID = payload.Username
	// низкий приоритет: при заполненном буфере событие отбрасывается, воркер не ждёт
	ev.Priority = 1
	if err := h.bus.Publish(ctx, ev); err != nil {
		return fmt.Errorf("share round: %w", err)
	}
	h.logger.Info("📣 %s поделился раундом #%d", payload.Username, payload.RoundNumber)
	return nil
}

// Start подписывает хаб на рассылку группы и ретранслирует её в push-каналы
func (h *Hub) Start(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	sub, err := h.bus.Subscribe(ctx, eventbus.Filter{Types: []string{EventRoundShared}}, h.onShare)
	if err != nil {
		return fmt.Errorf("subscribe shares: %w", err)
	}
	h.sub = sub
	return nil
}

// Stop отписывает хаб от шины
func (h *Hub) Stop() {
	if h.sub != nil {
		h.sub.Unsubscribe()
		h.sub = nil
	}
}

func (h *Hub) onShare(_ context.Context, ev *eventbus.Envelope) {
	var payload protocol.SharePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		h.logger.Warn("Некорректное сообщение группы %s: %v", ev.ID, err)
		return
	}
	h.broadcast(&protocol.PushMessage{Type: protocol.PushShare, Share: &payload})
}
