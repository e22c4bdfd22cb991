package delivery

import (
	"log"

	"supporthub-ws/internal/auth"
	"supporthub-ws/internal/config"
	"supporthub-ws/internal/hub"
	"supporthub-ws/internal/infrastructure/redis"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	config    *config.Config
	verifier  auth.Verifier
	redis     *redis.Client
	registry  *hub.Registry
	store     *hub.Store
	wsHandler *WSHandler
}

func NewServer(cfg *config.Config, verifier auth.Verifier, redisClient *redis.Client, registry *hub.Registry, store *hub.Store, wsHandler *WSHandler) *Server {
	return &Server{
		config:    cfg,
		verifier:  verifier,
		redis:     redisClient,
		registry:  registry,
		store:     store,
		wsHandler: wsHandler,
	}
}

func (s *Server) Start() error {
	app := fiber.New(fiber.Config{
		AppName: "Support Hub WebSocket & REST Server",
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))

	corsConfig := cors.Config{
		AllowMethods:     "GET,POST,HEAD,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With",
		AllowCredentials: s.config.AllowCredentials,
		MaxAge:           86400,
	}
	if s.config.IsProduction() {
		corsConfig.AllowOrigins = s.config.GetCORSOrigins()
		log.Printf("CORS configured for production with origins: %s", corsConfig.AllowOrigins)
	} else {
		corsConfig.AllowOrigins = "*"
		corsConfig.AllowCredentials = false // Never allow credentials with wildcard origin
		log.Printf("CORS configured for development with wildcard origin")
	}
	app.Use(cors.New(corsConfig))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"message":     "Support hub is running",
			"port":        s.config.Port,
			"environment": s.config.Environment,
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// REST API routes, bearer-token gated
	api := app.Group("/api", s.requireToken)
	api.Get("/principals/:role", s.handleListPrincipals)
	api.Get("/conversations/:key/messages", s.handleHistory)
	api.Get("/conversations/:key/status", s.handleConversationStatus)

	// WebSocket upgrade: the token is verified here, before any
	// registration. A client-decoded role is never trusted.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		claims, err := s.verifier.Verify(c.Query("token"))
		if err != nil {
			log.Printf("Rejected WS connect: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "connection rejected",
				"error":   err.Error(),
			})
		}
		c.Locals("claims", claims)
		return c.Next()
	})

	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		claims, ok := c.Locals("claims").(auth.Claims)
		if !ok {
			c.Close()
			return
		}
		s.wsHandler.HandleConnection(c, claims)
	}))

	log.Printf("Support hub (WebSocket + REST) starting on port %s", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// requireToken authenticates REST calls with the same bearer tokens the
// WS upgrade uses, from the Authorization header or a token query
// param.
func (s *Server) requireToken(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		authz := c.Get("Authorization")
		const prefix = "Bearer "
		if len(authz) > len(prefix) && authz[:len(prefix)] == prefix {
			token = authz[len(prefix):]
		}
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "unauthorized",
			"error":   err.Error(),
		})
	}
	c.Locals("claims", claims)
	return c.Next()
}
