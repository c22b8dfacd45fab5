package dispatch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/wordle-server/internal/auth"
	"github.com/annel0/wordle-server/internal/game"
	"github.com/annel0/wordle-server/internal/logging"
	"github.com/annel0/wordle-server/internal/metrics"
	"github.com/annel0/wordle-server/internal/notify"
	"github.com/annel0/wordle-server/internal/protocol"
	"github.com/annel0/wordle-server/internal/word"
)

const shareTimeout = 5 * time.Second

// Config зависимости диспетчера
type Config struct {
	Store        *game.Store
	Oracle       *word.Oracle
	Hub          *notify.Hub
	Tokens       *auth.TokenIssuer // nil - pushToken не выдаётся
	Pool         *WorkerPool
	WordLifetime time.Duration
}

// Dispatcher разбирает запросы и выполняет команды в пуле воркеров
type Dispatcher struct {
	store        *game.Store
	oracle       *word.Oracle
	hub          *notify.Hub
	tokens       *auth.TokenIssuer
	pool         *WorkerPool
	wordLifetime time.Duration
	now          func() time.Time

	tracer trace.Tracer
	logger *logging.Logger
}

// NewDispatcher создаёт диспетчер
func NewDispatcher(cfg Config) *Dispatcher {
	lifetime := cfg.WordLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	return &Dispatcher{
		store:        cfg.Store,
		oracle:       cfg.Oracle,
		hub:          cfg.Hub,
		tokens:       cfg.Tokens,
		pool:         cfg.Pool,
		wordLifetime: lifetime,
		now:          time.Now,
		tracer:       otel.Tracer("wordle-server/dispatch"),
		logger:       logging.GetDispatchLogger(),
	}
}

// Submit передаёт кадр запроса в пул. Ответ приходит через reply ровно один раз.
// При переполнении пула возвращает ErrPoolSaturated, reply не вызывается.
func (d *Dispatcher) Submit(sessionID string, frame []byte, reply func(*protocol.Response)) error {
	return d.pool.TrySubmit(func() {
		var resp *protocol.Response
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("❌ Паника при обработке запроса сессии %s: %v", sessionID, r)
				resp = protocol.NewResponse(protocol.CodeInternalServerError)
			}
			reply(resp)
		}()
		resp = d.Process(context.Background(), sessionID, frame)
	})
}

// Process синхронно обрабатывает один кадр запроса
func (d *Dispatcher) Process(ctx context.Context, sessionID string, frame []byte) *protocol.Response {
	start := time.Now()

	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		command := "unknown"
		if req != nil && req.Command != "" {
			command = string(req.Command)
		}
		d.logger.Debug("Некорректный запрос сессии %s: %v", sessionID, err)
		return d.observe(command, start, protocol.NewResponse(protocol.CodeBadRequest))
	}
	if !req.Command.Known() {
		return d.observe("unknown", start, protocol.NewResponse(protocol.CodeInvalidCommand))
	}

	ctx, span := d.tracer.Start(ctx, "wordle."+string(req.Command),
		trace.WithAttributes(
			attribute.String("wordle.username", req.Username),
			attribute.String("wordle.session", sessionID),
		))
	defer span.End()

	resp := d.Handle(ctx, sessionID, req)

	span.SetAttributes(attribute.String("wordle.code", string(resp.Code)))
	if resp.Code == protocol.CodeInternalServerError {
		span.SetStatus(codes.Error, "internal error")
	}
	return d.observe(string(req.Command), start, resp)
}

func (d *Dispatcher) observe(command string, start time.Time, resp *protocol.Response) *protocol.Response {
	metrics.Requests.WithLabelValues(command, string(resp.Code)).Inc()
	metrics.RequestDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	return resp
}

// Handle выполняет разобранный запрос
func (d *Dispatcher) Handle(ctx context.Context, sessionID string, req *protocol.Request) *protocol.Response {
	var (
		resp *protocol.Response
		err  error
	)

	switch req.Command {
	case protocol.CmdLogin:
		resp, err = d.login(sessionID, req)
	case protocol.CmdLogout:
		resp, err = d.logout(sessionID, req)
	case protocol.CmdPlayRound:
		resp, err = d.playRound(sessionID, req)
	case protocol.CmdSubmitGuess:
		resp, err = d.submitGuess(sessionID, req)
	case protocol.CmdStats:
		resp, err = d.stats(sessionID, req)
	case protocol.CmdShareLastRound:
		resp, err = d.shareLastRound(ctx, sessionID, req)
	default:
		return protocol.NewResponse(protocol.CodeInvalidCommand)
	}

	if err != nil {
		code := CodeFor(err)
		if code == protocol.CodeInternalServerError {
			d.logger.Error("❌ %s для %s: %v", req.Command, req.Username, err)
		}
		return protocol.NewResponse(code)
	}
	return resp
}

// CodeFor отображает доменную ошибку в код ответа
func CodeFor(err error) protocol.Code {
	switch {
	case err == nil:
		return protocol.CodeOK
	case errors.Is(err, game.ErrUsernameRequired):
		return protocol.CodeUsernameRequired
	case errors.Is(err, game.ErrPasswordRequired):
		return protocol.CodePasswordRequired
	case errors.Is(err, game.ErrUsernameAlreadyUsed):
		return protocol.CodeUsernameAlreadyUsed
	case errors.Is(err, game.ErrInvalidUsername):
		return protocol.CodeInvalidUsername
	case errors.Is(err, game.ErrInvalidCredentials):
		return protocol.CodeInvalidUsernamePassword
	case errors.Is(err, game.ErrAlreadyLoggedIn):
		return protocol.CodeAlreadyLoggedIn
	case errors.Is(err, game.ErrAlreadyPlayed):
		return protocol.CodeGameAlreadyPlayed
	case errors.Is(err, game.ErrNeedToStartRound):
		return protocol.CodeNeedToStartRound
	case errors.Is(err, game.ErrInvalidWordLength):
		return protocol.CodeInvalidWordLength
	case errors.Is(err, game.ErrWordNotInDictionary):
		return protocol.CodeWordNotInDictionary
	case errors.Is(err, game.ErrNoGameToShare):
		return protocol.CodeNoGameToShare
	default:
		return protocol.CodeInternalServerError
	}
}

func (d *Dispatcher) login(sessionID string, req *protocol.Request) (*protocol.Response, error) {
	if err := d.store.Login(req.Username, req.Arg(0), sessionID); err != nil {
		return nil, err
	}

	resp := protocol.NewResponse(protocol.CodeOK)
	if d.tokens != nil {
		token, err := d.tokens.Issue(req.Username, sessionID)
		if err != nil {
			// без токена вход всё равно состоялся, push-канал просто недоступен
			d.logger.Warn("Не удалось выпустить push-токен для %s: %v", req.Username, err)
		} else {
			resp.PushToken = token
		}
	}
	return resp, nil
}

func (d *Dispatcher) logout(sessionID string, req *protocol.Request) (*protocol.Response, error) {
	if err := d.store.RequireSession(req.Username, sessionID); err != nil {
		return nil, err
	}
	if err := d.store.Logout(req.Username); err != nil {
		return nil, err
	}
	if d.hub != nil {
		d.hub.Unsubscribe(req.Username)
	}
	return protocol.NewResponse(protocol.CodeOK), nil
}

func (d *Dispatcher) playRound(sessionID string, req *protocol.Request) (*protocol.Response, error) {
	if err := d.store.RequireSession(req.Username, sessionID); err != nil {
		return nil, err
	}

	// ленивая ротация: кто первым увидел истёкшее слово, тот и меняет
	d.oracle.RotateIfExpired(d.now(), d.wordLifetime)
	current := d.oracle.Current()

	round, err := d.store.GetOrStartRound(req.Username, current.Word, current.RoundNumber)
	if err != nil {
		return nil, err
	}

	resp := protocol.NewResponse(protocol.CodeOK).WithRemaining(round.Remaining())
	resp.UserGuess = round.Guesses
	return resp, nil
}

func (d *Dispatcher) submitGuess(sessionID string, req *protocol.Request) (*protocol.Response, error) {
	if err := d.store.RequireSession(req.Username, sessionID); err != nil {
		return nil, err
	}

	current := d.oracle.Current()
	dict := d.oracle.Dictionary()

	out, err := d.store.ApplyGuess(req.Username, current.Word, current.RoundNumber, req.Payload(), dict.Contains)
	if err != nil {
		return nil, err
	}

	round := out.Round
	if out.JustFinished {
		rank, changed := d.store.RankIfTopChanged()
		if changed && d.hub != nil {
			d.logger.Info("🏆 Изменилась тройка лидеров")
			d.hub.BroadcastRank(rank)
		}
	}

	code := protocol.CodeOK
	switch {
	case round.Finished && round.Won:
		code = protocol.CodeGameWon
	case round.Finished:
		code = protocol.CodeGameLost
	}

	resp := protocol.NewResponse(code).WithRemaining(round.Remaining())
	resp.UserGuess = round.Guesses
	if round.Finished {
		resp.WordTranslation = current.Translation
	}
	return resp, nil
}

func (d *Dispatcher) stats(sessionID string, req *protocol.Request) (*protocol.Response, error) {
	if err := d.store.RequireSession(req.Username, sessionID); err != nil {
		return nil, err
	}
	st, err := d.store.Stats(req.Username)
	if err != nil {
		return nil, err
	}
	resp := protocol.NewResponse(protocol.CodeOK)
	resp.Stat = &st
	return resp, nil
}

func (d *Dispatcher) shareLastRound(ctx context.Context, sessionID string, req *protocol.Request) (*protocol.Response, error) {
	if err := d.store.RequireSession(req.Username, sessionID); err != nil {
		return nil, err
	}
	round, err := d.store.LastFinishedRound(req.Username)
	if err != nil {
		return nil, err
	}

	if d.hub == nil {
		return nil, errors.New("share last round: notification hub not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, shareTimeout)
	defer cancel()

	err = d.hub.ShareRound(ctx, protocol.SharePayload{
		Username:    req.Username,
		RoundNumber: round.RoundNumber,
		Hints:       round.Guesses,
	})
	if err != nil {
		return nil, err
	}
	return protocol.NewResponse(protocol.CodeOK), nil
}
