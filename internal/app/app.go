// Package app собирает все сервисы сервера и управляет их жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/wordle-server/internal/api"
	"github.com/annel0/wordle-server/internal/auth"
	"github.com/annel0/wordle-server/internal/config"
	"github.com/annel0/wordle-server/internal/dispatch"
	"github.com/annel0/wordle-server/internal/eventbus"
	"github.com/annel0/wordle-server/internal/game"
	"github.com/annel0/wordle-server/internal/logging"
	"github.com/annel0/wordle-server/internal/network"
	"github.com/annel0/wordle-server/internal/notify"
	"github.com/annel0/wordle-server/internal/observability"
	"github.com/annel0/wordle-server/internal/storage"
	"github.com/annel0/wordle-server/internal/word"
)

const busMetricsInterval = 10 * time.Second

// Option настраивает App до запуска
type Option func(*options)

type options struct {
	tcp        net.Listener
	rest       net.Listener
	credential auth.Credential
	translator word.Translator
}

// WithTCPListener использует готовый listener для игрового протокола
func WithTCPListener(ln net.Listener) Option {
	return func(o *options) { o.tcp = ln }
}

// WithRESTListener использует готовый listener для REST API
func WithRESTListener(ln net.Listener) Option {
	return func(o *options) { o.rest = ln }
}

// WithCredential подменяет хеширование паролей
func WithCredential(c auth.Credential) Option {
	return func(o *options) { o.credential = c }
}

// WithTranslator подменяет сервис перевода
func WithTranslator(t word.Translator) Option {
	return func(o *options) { o.translator = t }
}

// App сервер целиком
type App struct {
	cfg *config.Config

	store      *game.Store
	oracle     *word.Oracle
	rotator    *word.Rotator
	snapshots  storage.Store
	bus        eventbus.EventBus
	busLog     eventbus.Subscription
	exporter   *eventbus.MetricsExporter
	hub        *notify.Hub
	pool       *dispatch.WorkerPool
	dispatcher *dispatch.Dispatcher
	mux        *network.Multiplexer
	rest       *api.RestServer
	restLn     net.Listener
	telemetry  observability.ShutdownFunc

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error

	logger *logging.Logger
}

// New создаёт и связывает все компоненты. Ничего не запускает, кроме открытия портов.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	manager := logging.GetLoggerManager()
	manager.SetDefaultLevel(logging.ParseLevel(cfg.Log.Level))
	if cfg.Log.Files {
		manager.EnableFiles()
	}

	a := &App{cfg: cfg, logger: logging.GetComponentLogger("app")}
	ok := false
	defer func() {
		if !ok {
			if a.mux != nil {
				a.mux.StopAccepting()
			}
			_ = a.closeResources()
		}
	}()

	telemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.telemetry = telemetry

	// === Слово ===
	dict, err := word.LoadDictionary(cfg.Game.DictionaryPath)
	if err != nil {
		return nil, fmt.Errorf("dictionary: %w", err)
	}
	a.logger.Info("📖 Словарь загружен: %d слов", dict.Size())

	translator := o.translator
	if translator == nil && cfg.Game.Translate {
		translator = word.NewMyMemoryTranslator(cfg.Game.TranslateURL, cfg.Game.LangPair)
	}
	if cfg.Game.WordLifetime <= 0 {
		cfg.Game.WordLifetime = config.Default().Game.WordLifetime
	}
	a.oracle = word.NewOracle(dict, translator)
	a.rotator = word.NewRotator(a.oracle, cfg.Game.WordLifetime)

	// === Пользователи и хранилище ===
	cred := o.credential
	if cred == nil {
		cred = auth.NewBcryptCredential()
	}
	a.store = game.NewStore(cred)

	a.snapshots, err = storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	snap, err := a.snapshots.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	a.store.Restore(snap.Users)
	a.oracle.Restore(snap.Word)
	a.logger.Info("💾 Восстановлено пользователей: %d, раунд #%d", len(snap.Users), snap.Word.RoundNumber)

	// === Шина и push ===
	a.bus, err = openBus(cfg.EventBus)
	if err != nil {
		return nil, fmt.Errorf("eventbus: %w", err)
	}
	hostname, _ := os.Hostname()
	a.hub = notify.NewHub(a.store, a.bus, hostname)

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	if err != nil {
		return nil, err
	}

	// === Обработка запросов ===
	a.pool = dispatch.NewWorkerPool(cfg.Workers.GetPoolSize(), cfg.Workers.GetQueueSize())
	a.dispatcher = dispatch.NewDispatcher(dispatch.Config{
		Store:        a.store,
		Oracle:       a.oracle,
		Hub:          a.hub,
		Tokens:       tokens,
		Pool:         a.pool,
		WordLifetime: cfg.Game.WordLifetime,
	})

	sessions := disconnects{store: a.store, hub: a.hub}
	if o.tcp != nil {
		a.mux = network.NewMultiplexer(o.tcp, a.dispatcher, sessions)
	} else {
		a.mux, err = network.Listen(cfg.Server.TCPAddr(), a.dispatcher, sessions)
		if err != nil {
			return nil, err
		}
	}

	a.restLn = o.rest
	if a.restLn == nil {
		a.restLn, err = net.Listen("tcp", cfg.Server.RESTAddr())
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", cfg.Server.RESTAddr(), err)
		}
	}
	a.rest = api.NewRestServer(api.Config{
		Addr:   a.restLn.Addr().String(),
		Store:  a.store,
		Hub:    a.hub,
		Tokens: tokens,
	})

	ok = true
	return a, nil
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		return eventbus.NewMemoryBus(cfg.Buffer), nil
	}
	nb, err := eventbus.NewNATSBus(cfg.URL, cfg.Subject,
		nats.Name("wordle-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return nb, nil
}

// TCPAddr адрес игрового протокола
func (a *App) TCPAddr() net.Addr { return a.mux.Addr() }

// RESTAddr адрес REST API
func (a *App) RESTAddr() net.Addr { return a.restLn.Addr() }

// Store хранилище игроков
func (a *App) Store() *game.Store { return a.store }

// Oracle текущее слово
func (a *App) Oracle() *word.Oracle { return a.oracle }

// Start запускает фоновые циклы и приём соединений. Не блокирует.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.hub.Start(ctx); err != nil {
		return err
	}
	if sub, err := eventbus.StartLoggingListener(a.bus); err != nil {
		a.logger.Warn("⚠️ LoggingListener не запущен: %v", err)
	} else {
		a.busLog = sub
	}
	a.exporter = eventbus.NewMetricsExporter(a.bus, busMetricsInterval)
	a.exporter.Start()

	// устаревшее восстановленное слово меняем сразу
	a.oracle.RotateIfExpired(time.Now(), a.cfg.Game.WordLifetime)
	a.rotator.Start(ctx)

	a.mux.Start()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.rest.Serve(a.restLn); err != nil {
			a.logger.Error("❌ REST API остановлен с ошибкой: %v", err)
		}
	}()

	if every := a.cfg.Storage.AutosaveEach; every > 0 {
		a.wg.Add(1)
		go a.autosave(ctx, every)
	}

	a.logger.Info("✅ Сервер запущен: TCP %s, REST %s", a.TCPAddr(), a.RESTAddr())
	return nil
}

// Run запускает сервер и блокируется до отмены ctx, затем выполняет Shutdown
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	grace := a.cfg.Server.ShutdownGrace
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace+5*time.Second)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

func (a *App) autosave(ctx context.Context, every time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Persist(ctx); err != nil {
				a.logger.Warn("⚠️ Автосохранение не удалось: %v", err)
			}
		}
	}
}

// Persist сохраняет пользователей и текущее слово
func (a *App) Persist(ctx context.Context) error {
	snap := &storage.Snapshot{
		Users:   a.store.Snapshot(),
		Word:    a.oracle.Current(),
		SavedAt: time.Now().UTC(),
	}
	if err := a.snapshots.Save(ctx, snap); err != nil {
		return err
	}
	a.logger.Debug("💾 Снимок сохранён: %d пользователей", len(snap.Users))
	return nil
}

// Shutdown останавливает сервер: приём соединений, воркеры, ротацию,
// сохраняет состояние и закрывает сокеты. Повторный вызов возвращает тот же результат.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown(ctx)
	})
	return a.shutdownErr
}

func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("🛑 Остановка сервера...")
	var errs []error

	// (a) новые соединения не принимаются
	a.mux.StopAccepting()

	// (b) воркеры дорабатывают в пределах grace
	if err := a.pool.Stop(a.cfg.Server.ShutdownGrace); err != nil {
		a.logger.Warn("⚠️ Воркеры не успели завершиться: %v", err)
		errs = append(errs, err)
	}

	// (c) ротация и фоновые циклы
	if a.cancel != nil {
		a.cancel()
	}
	a.rotator.Stop()

	// (d) состояние
	if err := a.Persist(ctx); err != nil {
		a.logger.Error("❌ Не удалось сохранить состояние: %v", err)
		errs = append(errs, fmt.Errorf("persist: %w", err))
	}

	// (e) сокеты и остальные ресурсы
	if err := a.mux.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tcp: %w", err))
	}
	if err := a.rest.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("rest: %w", err))
	}
	_ = a.restLn.Close()
	a.wg.Wait()

	a.hub.Stop()
	if a.busLog != nil {
		a.busLog.Unsubscribe()
	}
	if a.exporter != nil {
		a.exporter.Stop()
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("👋 Сервер остановлен")
	return errors.Join(errs...)
}

// closeResources закрывает шину, хранилище и телеметрию
func (a *App) closeResources() error {
	var errs []error
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("eventbus: %w", err))
		}
	}
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// disconnects завершает сессии оборванного соединения и закрывает push-каналы вышедших
type disconnects struct {
	store *game.Store
	hub   *notify.Hub
}

func (d disconnects) LogoutBySession(sessionID string) []string {
	names := d.store.LogoutBySession(sessionID)
	for _, name := range names {
		d.hub.Unsubscribe(name)
	}
	return names
}
