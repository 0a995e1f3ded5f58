package api

import (
	"net/http"
	"time"

	"signal-core/internal/action"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/reconciliation"
	"signal-core/internal/settlement"
	"signal-core/internal/stops"
	"signal-core/internal/trigger"
	"signal-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// Services groups the components the HTTP layer drives.
type Services struct {
	Executor   *order.Executor
	Actions    *action.Gateway
	Evaluator  *trigger.Evaluator
	Reconciler *reconciliation.Service
	Settlement *settlement.Service
	Stops      *stops.Service
}

// Server wires HTTP endpoints around the lifecycle services.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	DB       *db.Database
	Services Services
	Metrics  *monitor.Metrics
	Auth     AuthConfig
	Meta     SystemMeta
}

// SystemMeta describes runtime status exposed on /health.
type SystemMeta struct {
	DryRun  bool
	Demo    bool
	Venue   string
	Version string
}

func NewServer(bus *events.Bus, database *db.Database, svc Services, metrics *monitor.Metrics, auth AuthConfig, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware(20, 50))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Bus:      bus,
		DB:       database,
		Services: svc,
		Metrics:  metrics,
		Auth:     auth,
		Meta:     meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.login)

		// The token is the credential.
		api.GET("/actions/redeem", s.redeemAction)
		api.POST("/actions/redeem", s.redeemAction)

		api.POST("/tick", PollerOrAuthMiddleware(s.Auth.JWTSecret, s.Auth.PollerKey), s.tick)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.Auth.JWTSecret))
		{
			protected.POST("/signals", s.submitSignal)
			protected.GET("/signals/:id", s.getSignal)
			protected.GET("/sources/:id/stats", s.getSourceStats)

			protected.GET("/orders", s.getOrders)
			protected.GET("/positions", s.getPositions)
			protected.POST("/positions/close", s.closePosition)
			protected.POST("/positions/:id/stops", s.updateStops)
			protected.POST("/positions/:id/breakeven", s.moveToBreakeven)

			protected.POST("/reconcile", s.reconcile)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"venue":          s.Meta.Venue,
		"dry_run":        s.Meta.DryRun,
		"demo":           s.Meta.Demo,
		"version":        s.Meta.Version,
		"events_dropped": s.Bus.Dropped(),
	})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
