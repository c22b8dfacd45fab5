package word

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/wordle-server/internal/logging"
	"github.com/annel0/wordle-server/internal/metrics"
)

// State снимок текущего секретного слова
type State struct {
	Word        string    `json:"word"`
	Translation string    `json:"translation"`
	ExtractedAt time.Time `json:"extracted_at"`
	RoundNumber int       `json:"round_number"`
}

// Oracle хранит единственное активное секретное слово.
// Чтение и ротация используют один и тот же RWMutex, поэтому читатели
// ждут окончания ротации и никогда не видят старое слово после неё.
type Oracle struct {
	mu           sync.RWMutex
	state        State
	dict         *Dictionary
	translator   Translator
	translateTTL time.Duration
	logger       *logging.Logger
}

// NewOracle создаёт оракул. До первой ротации слово пустое.
func NewOracle(dict *Dictionary, translator Translator) *Oracle {
	if translator == nil {
		translator = NopTranslator{}
	}
	return &Oracle{
		dict:         dict,
		translator:   translator,
		translateTTL: 5 * time.Second,
		logger:       logging.GetGameLogger(),
	}
}

// Current возвращает снимок состояния под разделяемой блокировкой
func (o *Oracle) Current() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Dictionary возвращает словарь оракула
func (o *Oracle) Dictionary() *Dictionary {
	return o.dict
}

// RotateIfExpired меняет слово, если now >= ExtractedAt + ttl.
// Возвращает true, только если ротация действительно произошла.
func (o *Oracle) RotateIfExpired(now time.Time, ttl time.Duration) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Word != "" && now.Before(o.state.ExtractedAt.Add(ttl)) {
		return false
	}

	next := o.dict.RandomExcept(o.state.Word)

	ctx, cancel := context.WithTimeout(context.Background(), o.translateTTL)
	translation, err := o.translator.Translate(ctx, next)
	cancel()
	if err != nil {
		// перевод не обязателен
		o.logger.Warn("Не удалось получить перевод слова: %v", err)
		translation = ""
	}

	o.state = State{
		Word:        next,
		Translation: translation,
		ExtractedAt: now,
		RoundNumber: o.state.RoundNumber + 1,
	}
	metrics.WordRotations.Inc()
	o.logger.Info("🔄 Новое слово, раунд #%d", o.state.RoundNumber)
	o.logger.Debug("Секретное слово раунда #%d: %s", o.state.RoundNumber, next)
	return true
}

// Restore восстанавливает состояние из хранилища при старте
func (o *Oracle) Restore(s State) {
	if s.Word == "" {
		return
	}
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}
