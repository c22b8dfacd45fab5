package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/wordle-server/internal/auth"
	"github.com/annel0/wordle-server/internal/dispatch"
	"github.com/annel0/wordle-server/internal/game"
	"github.com/annel0/wordle-server/internal/logging"
	"github.com/annel0/wordle-server/internal/middleware"
	"github.com/annel0/wordle-server/internal/notify"
	"github.com/annel0/wordle-server/internal/protocol"
)

// UserStore операции хранилища игроков, нужные REST
type UserStore interface {
	Register(username, secret string) error
	RequireSession(username, sessionID string) error
	Rank() []game.RankEntry
}

// PushRegistry реестр push-каналов
type PushRegistry interface {
	Subscribe(username string, handle notify.Handle)
	Release(username string, handle notify.Handle)
	Subscribers() int
}

// TokenValidator проверка push-токена
type TokenValidator interface {
	Validate(token, username string) (*auth.PushClaims, error)
}

// RestServer REST API и websocket push-канал
type RestServer struct {
	router  *gin.Engine
	server  *http.Server
	store   UserStore
	hub     PushRegistry
	tokens  TokenValidator
	metrics *ServerMetrics

	pushMu sync.Mutex
	pushes map[*pushConn]struct{}

	logger *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr    string // адрес для запуска сервера
	Store   UserStore
	Hub     PushRegistry
	Tokens  TokenValidator
	Service string // префикс метрик и имя сервиса в трассировке
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.Service == "" {
		config.Service = "wordle"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(config.Service + "_rest"))
	router.Use(middleware.NewRequestLogger().Handler())

	promMw := middleware.NewPrometheusMiddleware(config.Service)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:  router,
		store:   config.Store,
		hub:     config.Hub,
		tokens:  config.Tokens,
		metrics: NewServerMetrics(),
		pushes:  make(map[*pushConn]struct{}),
		logger:  logging.GetComponentLogger("rest"),
	}
	rs.server = &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rs.setupRoutes()
	return rs
}

func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	api := rs.router.Group("/api")
	{
		api.POST("/register", rs.handleRegister)
		api.GET("/rank", rs.handleRank)
		api.GET("/server", rs.handleServerInfo)
	}

	rs.router.GET("/ws/push", rs.handlePush)
	rs.router.GET("/health", rs.handleHealth)
}

// Handler http.Handler роутера (для httptest)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// RegisterRequest запрос на регистрацию
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CodeResponse ответ с кодом протокола
type CodeResponse struct {
	Code protocol.Code `json:"code"`
}

func (rs *RestServer) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CodeResponse{Code: protocol.CodeBadRequest})
		return
	}

	err := rs.store.Register(req.Username, req.Password)
	code := dispatch.CodeFor(err)

	status := http.StatusOK
	switch code {
	case protocol.CodeOK:
		rs.logger.Info("📝 Зарегистрирован пользователь %s", req.Username)
	case protocol.CodeUsernameRequired, protocol.CodePasswordRequired:
		status = http.StatusBadRequest
	case protocol.CodeUsernameAlreadyUsed:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		rs.logger.Error("❌ Регистрация %s: %v", req.Username, err)
	}
	c.JSON(status, CodeResponse{Code: code})
}

func (rs *RestServer) handleRank(c *gin.Context) {
	rank := rs.store.Rank()
	if rank == nil {
		rank = []game.RankEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"rank": rank})
}

func (rs *RestServer) handleServerInfo(c *gin.Context) {
	info := rs.metrics.Snapshot()
	if rs.hub != nil {
		info["push_subscribers"] = rs.hub.Subscribers()
	}
	c.JSON(http.StatusOK, info)
}

// handlePush поднимает websocket push-канал после проверки токена,
// выданного при LOGIN. Токен завершённой сессии не принимается.
func (rs *RestServer) handlePush(c *gin.Context) {
	username := c.Query("username")
	token := c.Query("token")
	if username == "" || token == "" {
		c.JSON(http.StatusBadRequest, CodeResponse{Code: protocol.CodeBadRequest})
		return
	}

	claims, err := rs.tokens.Validate(token, username)
	if err != nil {
		rs.logger.Warn("⚠️ Отклонён push-токен для %s: %v", username, err)
		c.JSON(http.StatusUnauthorized, CodeResponse{Code: protocol.CodeInvalidUsername})
		return
	}
	if err := rs.store.RequireSession(username, claims.SessionID); err != nil {
		c.JSON(http.StatusUnauthorized, CodeResponse{Code: dispatch.CodeFor(err)})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rs.logger.Warn("Upgrade push-канала %s: %v", username, err)
		return
	}

	conn := newPushConn(username, ws, rs.logger)
	rs.track(conn, true)
	go conn.writePump()

	rs.hub.Subscribe(username, conn)
	rs.logger.Info("🔔 Push-канал открыт: %s", username)

	conn.readPump()

	rs.hub.Release(username, conn)
	rs.track(conn, false)
	rs.logger.Info("🔕 Push-канал закрыт: %s", username)
}

func (rs *RestServer) track(conn *pushConn, add bool) {
	rs.pushMu.Lock()
	defer rs.pushMu.Unlock()
	if add {
		rs.pushes[conn] = struct{}{}
	} else {
		delete(rs.pushes, conn)
	}
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
		"server": rs.metrics.Snapshot(),
	})
}

// Serve обслуживает уже открытый listener
func (rs *RestServer) Serve(ln net.Listener) error {
	rs.logger.Info("🌐 REST API слушает %s", ln.Addr())
	if err := rs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown закрывает push-каналы и останавливает HTTP сервер
func (rs *RestServer) Shutdown(ctx context.Context) error {
	rs.pushMu.Lock()
	for conn := range rs.pushes {
		_ = conn.Close()
	}
	rs.pushMu.Unlock()

	return rs.server.Shutdown(ctx)
}
