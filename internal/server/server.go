package server

import (
	"net/http"
	"time"

	"checkout-payments/internal/logging"
	"checkout-payments/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/uptrace/bun"
)

// maxWebhookBody bounds provider callback bodies.
const maxWebhookBody = 1 << 20

type Dependencies struct {
	DB             *bun.DB
	Initiation     service.InitiationService
	Reconciliation service.ReconciliationService
	Orders         service.OrderService
	Logger         glog.Logger
	AllowedOrigins []string
}

// Server exposes the checkout API and the provider webhooks.
type Server struct {
	db             *bun.DB
	initiation     service.InitiationService
	reconciliation service.ReconciliationService
	orders         service.OrderService
	logger         glog.Logger
	router         *gin.Engine
}

func New(deps Dependencies) *Server {
	s := &Server{
		db:             deps.DB,
		initiation:     deps.Initiation,
		reconciliation: deps.Reconciliation,
		orders:         deps.Orders,
		logger:         logging.Ensure(deps.Logger),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger), cors.New(corsConfig(deps.AllowedOrigins)))

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/payments/:provider", s.handleInitiatePayment)
		api.GET("/payments/:correlationId", s.handleGetPayment)
		api.POST("/orders", s.handleCreateOrder)
		api.GET("/orders/:id", s.handleGetOrder)
	}

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/mpesa", s.handleMpesaCallback)
		webhooks.POST("/stripe", s.handleStripeWebhook)
	}

	s.router = router
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-User-ID", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
