package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"twin-chat/internal/catalog"
	"twin-chat/internal/chat"
	"twin-chat/internal/config"
	"twin-chat/internal/predictions"
	"twin-chat/internal/store"
)

const (
	deviceCookie       = "twin_device"
	deviceCookieMaxAge = 365 * 24 * 60 * 60
	deviceKey          = "device"
	shutdownTimeout    = 10 * time.Second
)

type WebServer struct {
	cfg       *config.Config
	store     *store.Store
	chat      *chat.Service
	catalog   *catalog.Catalog
	hub       *Hub
	scheduler *Scheduler
	router    *gin.Engine
	logger    zerolog.Logger
}

func NewWebServer(cfg *config.Config, enableScheduler bool) (*WebServer, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load()
	if err != nil {
		st.Close()
		return nil, err
	}

	hub := NewHub()
	svc := chat.NewService(
		newForecastClient(cfg),
		st,
		predictions.NewService(st, newPredictionsRemote(cfg)),
		hub,
	)

	gin.SetMode(gin.ReleaseMode)
	server := newWebServer(cfg, st, svc, cat, hub)

	if enableScheduler {
		scheduler, err := NewScheduler(svc, cfg.Snapshot.Schedule, cfg.Snapshot.IdleTTL)
		if err != nil {
			server.logger.Warn().Err(err).Msg("Failed to initialize scheduler")
		} else {
			server.scheduler = scheduler
			scheduler.Start()
		}
	}
	return server, nil
}

func newWebServer(cfg *config.Config, st *store.Store, svc *chat.Service, cat *catalog.Catalog, hub *Hub) *WebServer {
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery(), deviceMiddleware(cfg.Server.CookieSecure))

	server := &WebServer{
		cfg:     cfg,
		store:   st,
		chat:    svc,
		catalog: cat,
		hub:     hub,
		router:  router,
		logger:  log.With().Str("component", "server").Logger(),
	}
	server.setupRoutes()
	return server
}

func (ws *WebServer) setupRoutes() {
	static := ws.cfg.Server.StaticDir
	ws.router.Static("/static", static)
	ws.router.StaticFile("/", filepath.Join(static, "index.html"))
	ws.router.StaticFile("/index.html", filepath.Join(static, "index.html"))
	ws.router.StaticFile("/predictions.html", filepath.Join(static, "predictions.html"))

	ws.router.GET("/ws", ws.hub.serveWS)

	api := ws.router.Group("/api")
	{
		// Session
		api.GET("/session", ws.getSession)
		api.POST("/session/load", ws.loadSession)
		api.POST("/session/login", ws.login)
		api.POST("/session/logout", ws.logout)

		// Chat panes; pane "twin" submits to both
		api.GET("/chat/:pane", ws.getPane)
		api.POST("/chat/:pane", ws.submit)
		api.DELETE("/chat", ws.clearChat)
		api.POST("/chat/:pane/turns/:id/:action", ws.turnAction)
		api.DELETE("/chat/:pane/turns/:id", ws.dismissTurn)
		api.POST("/snapshot", ws.snapshot)
		api.POST("/draft", ws.saveDraft)

		// Saved predictions
		api.GET("/predictions", ws.listPredictions)
		api.DELETE("/predictions", ws.clearPredictions)
		api.DELETE("/predictions/:id", ws.deletePrediction)
		api.POST("/predictions/:id/feedback", ws.submitFeedback)

		// Input helpers
		api.GET("/history", ws.getHistory)
		api.GET("/search", ws.searchStocks)
		api.GET("/presets", ws.getPresets)
	}
}

// Run serves until ctx is cancelled or the process is interrupted.
func (ws *WebServer) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", ws.cfg.Server.Port),
		Handler:           ws.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		ws.logger.Info().Str("addr", srv.Addr).Msg("Web server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	ws.logger.Info().Msg("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (ws *WebServer) Close() {
	if ws.scheduler != nil {
		ws.scheduler.Stop()
	} else if _, err := ws.chat.SnapshotAll(); err != nil {
		ws.logger.Error().Err(err).Msg("Final snapshot failed")
	}
	if ws.store != nil {
		if err := ws.store.Close(); err != nil {
			ws.logger.Error().Err(err).Msg("Failed to close database")
		}
	}
}

// deviceMiddleware issues the device cookie on first contact and exposes the
// device id to handlers.
func deviceMiddleware(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(deviceCookie)
		if err != nil || !validDevice(id) {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(deviceCookie, id, deviceCookieMaxAge, "/", "", secure, true)
		}
		c.Set(deviceKey, id)
		c.Next()
	}
}

func validDevice(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func deviceOf(c *gin.Context) string {
	return c.GetString(deviceKey)
}

func requestLogger() gin.HandlerFunc {
	logger := log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}
