package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// MarketQuery is what the REST layer reads from the market store.
type MarketQuery interface {
	MarketView
	Snapshot() map[string][]models.MTicker
	ByExchange(exchange string) []models.MTicker
	Len() int
}

// PremiumQuery is what the REST layer reads from the premium engine.
type PremiumQuery interface {
	PremiumView
	LatestFor(symbol string) (models.MPremiumRecord, bool)
	History(symbol string, limit int) []models.MPremiumRecord
	Metrics() models.MCycleMetrics
}

type FeedLister interface {
	Stats() []models.MFeedStats
}

type HealthReporter interface {
	Report(ctx context.Context) models.MHealthReport
}

// Deps are the components the API serves from. DB may be nil.
type Deps struct {
	Market   MarketQuery
	Premiums PremiumQuery
	Rates    interfaces.IRateProvider
	Feeds    FeedLister
	Health   HealthReporter
	DB       interfaces.IDatabase
}

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

type APIServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Hub    *Hub

	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, deps Deps, log *logger.Logger) *APIServer {
	if !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	interval := time.Duration(cfg.Broadcast.IntervalMs) * time.Millisecond
	s := &APIServer{
		Config: cfg,
		Logger: log,
		Hub:    NewHub(cfg.Name, deps.Market, deps.Premiums, deps.Rates, interval, log.Named("hub")),
		deps:   deps,
		engine: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.engine.Use(gin.Recovery())

	// CORS
	s.engine.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/tickers", s.getTickers)
	api.GET("/tickers/:symbol", s.getTicker)
	api.GET("/premiums", s.getPremiums)
	api.GET("/premiums/:symbol", s.getPremium)
	api.GET("/premiums/:symbol/history", s.getPremiumHistory)
	api.GET("/exchange-rate", s.getExchangeRate)
	api.GET("/debug/raw", s.getRaw)
	api.GET("/feeds", s.getFeeds)
	api.GET("/metrics", s.getMetrics)
	api.GET("/health", s.getHealth)

	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------

// Handler exposes the router, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start runs the hub and serves HTTP until Stop or ctx cancellation.
func (s *APIServer) Start(ctx context.Context) error {
	go s.Hub.Run(ctx)

	s.Logger.Info("Starting server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop drains HTTP requests within ctx. Websocket connections are hijacked,
// so they close when the hub's context ends.
func (s *APIServer) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": code, "message": message})
}

// notReady is the typed response for queries that have no data yet.
func notReady(c *gin.Context, message string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "message": message})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getTickers(c *gin.Context) {
	if s.deps.Market.Len() == 0 {
		notReady(c, "no ticker has been received yet")
		return
	}
	state := s.Hub.BuildState()
	c.JSON(http.StatusOK, gin.H{
		"tickers":   state.Tickers,
		"count":     len(state.Tickers),
		"timestamp": time.Now().UnixMilli(),
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getTicker(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	for _, t := range s.Hub.BuildState().Tickers {
		if t.Symbol == symbol {
			c.JSON(http.StatusOK, t)
			return
		}
	}
	errorJSON(c, http.StatusNotFound, "not_found", "no ticker for "+symbol)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getPremiums(c *gin.Context) {
	if s.deps.Premiums.Version() == 0 {
		notReady(c, "no premium cycle has completed yet")
		return
	}
	premiums := s.deps.Premiums.Latest()
	c.JSON(http.StatusOK, gin.H{
		"premiums": premiums,
		"count":    len(premiums),
		"cycle":    s.deps.Premiums.Metrics(),
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getPremium(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if rec, ok := s.deps.Premiums.LatestFor(symbol); ok {
		c.JSON(http.StatusOK, rec)
		return
	}
	errorJSON(c, http.StatusNotFound, "not_found", "no premium for "+symbol)
}

// -----------------------------------------------------------------------------

// getPremiumHistory reads from the database when there is one, otherwise
// from the engine's in-memory window.
func (s *APIServer) getPremiumHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 || limit > 1000 {
		errorJSON(c, http.StatusBadRequest, "bad_request", "limit must be between 1 and 1000")
		return
	}

	symbol := strings.ToUpper(c.Param("symbol"))
	if s.deps.DB == nil {
		records := s.deps.Premiums.History(symbol, limit)
		c.JSON(http.StatusOK, gin.H{"symbol": symbol, "records": records, "count": len(records), "source": "memory"})
		return
	}
	records, err := s.deps.DB.RecentPremiums(c.Request.Context(), symbol, limit)
	if err != nil {
		s.Logger.Error("Premium history for %s failed: %v", symbol, err)
		errorJSON(c, http.StatusInternalServerError, "storage_error", "history unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "records": records, "count": len(records)})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getExchangeRate(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Rates.CurrentRate())
}

// -----------------------------------------------------------------------------

func (s *APIServer) getRaw(c *gin.Context) {
	if s.deps.Market.Len() == 0 {
		notReady(c, "no ticker has been received yet")
		return
	}
	if exchange := c.Query("exchange"); exchange != "" {
		c.JSON(http.StatusOK, gin.H{exchange: s.deps.Market.ByExchange(exchange)})
		return
	}
	c.JSON(http.StatusOK, s.deps.Market.Snapshot())
}

// -----------------------------------------------------------------------------

func (s *APIServer) getFeeds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"feeds": s.deps.Feeds.Stats()})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"hub":         s.Hub.Metrics(),
		"subscribers": s.Hub.Subscribers(),
		"premium":     s.deps.Premiums.Metrics(),
		"store": gin.H{
			"tickers": s.deps.Market.Len(),
			"version": s.deps.Market.Version(),
		},
	})
}

// -----------------------------------------------------------------------------

// HealthStatusCode maps an overall status onto HTTP: degraded still serves.
func HealthStatusCode(status models.HealthStatus) int {
	switch status {
	case models.HealthHealthy, models.HealthDegraded:
		return http.StatusOK
	default:
		return http.StatusServiceUnavailable
	}
}

// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	report := s.deps.Health.Report(ctx)
	c.JSON(HealthStatusCode(report.Status), report)
}

// -----------------------------------------------------------------------------
// WebSocket Handler
// -----------------------------------------------------------------------------

func (s *APIServer) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	writeWait := time.Duration(s.Config.Broadcast.WriteTimeoutMs) * time.Millisecond
	client := NewClient(s.Hub, conn, s.Config.Broadcast.BufferSize, writeWait)
	if !s.Hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	s.Logger.Debug("Client %s connected from %s", client.ID(), c.ClientIP())

	go client.Serve()
}
