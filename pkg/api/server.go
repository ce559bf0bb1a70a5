// Package api exposes the HTTP and WebSocket surface: map and layer CRUD,
// tile and byte-range serving, the chat endpoints that launch the agent
// loop, and the live message update stream.
package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buntinglabs/mundi/pkg/agent"
	"github.com/buntinglabs/mundi/pkg/agent/tools"
	"github.com/buntinglabs/mundi/pkg/config"
	"github.com/buntinglabs/mundi/pkg/database"
	"github.com/buntinglabs/mundi/pkg/events"
	"github.com/buntinglabs/mundi/pkg/lock"
	"github.com/buntinglabs/mundi/pkg/postgis"
	"github.com/buntinglabs/mundi/pkg/services"
	"github.com/buntinglabs/mundi/pkg/storage"
)

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	cfg *config.Config
	db  *database.Client

	maps          *services.MapService
	layers        *services.LayerService
	styles        *services.StyleService
	conversations *services.ConversationService
	messages      *services.MessageService
	connections   *services.ConnectionService

	bus       *events.Bus
	publisher *events.Publisher
	coord     *lock.Coordinator
	pgManager *postgis.Manager
	store     *storage.Store
	llm       agent.Completer
	toolDeps  *tools.Deps
	mapState  *agent.MapStateBuilder
}

// NewServer creates the API server.
func NewServer(
	cfg *config.Config,
	db *database.Client,
	bus *events.Bus,
	publisher *events.Publisher,
	coord *lock.Coordinator,
	pgManager *postgis.Manager,
	store *storage.Store,
	completer agent.Completer,
	toolDeps *tools.Deps,
) *Server {
	pool := db.Pool()
	maps := services.NewMapService(pool)
	layers := services.NewLayerService(pool)
	connections := services.NewConnectionService(pool)
	return &Server{
		cfg:           cfg,
		db:            db,
		maps:          maps,
		layers:        layers,
		styles:        services.NewStyleService(pool),
		conversations: services.NewConversationService(pool),
		messages:      services.NewMessageService(pool),
		connections:   connections,
		bus:           bus,
		publisher:     publisher,
		coord:         coord,
		pgManager:     pgManager,
		store:         store,
		llm:           completer,
		toolDeps:      toolDeps,
		mapState: &agent.MapStateBuilder{
			Maps:        maps,
			Layers:      layers,
			Connections: connections,
		},
	}
}

// newLoop builds the agent loop for one turn.
func (s *Server) newLoop() *agent.Loop {
	return &agent.Loop{
		Messages:      s.messages,
		Conversations: s.conversations,
		Maps:          s.maps,
		Connections:   s.connections,
		LLM:           s.llm,
		Coord:         s.coord,
		Publisher:     s.publisher,
		Tools:         s.toolDeps,
	}
}

// RegisterRoutes attaches all handlers to the echo instance.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.Use(requestLogger())
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	api := e.Group("/api", authMiddleware(s.cfg.AuthMode))

	api.POST("/maps/create", s.createMapHandler)
	api.POST("/maps/:map_id/layers", s.uploadLayerHandler)
	api.GET("/maps/:map_id/style.json", s.styleJSONHandler)

	api.GET("/layer/:layer_file", s.layerBytesHandler)
	api.GET("/layer/:layer_id/:z/:x/:y", s.tileHandler)
	api.POST("/layers/:layer_id/style", s.setStyleHandler)

	api.POST("/conversations", s.createConversationHandler)
	api.GET("/conversations", s.listConversationsHandler)
	api.GET("/conversations/:id/messages", s.listMessagesHandler)

	api.POST("/maps/conversations/:conversation_id/maps/:map_id/send", s.sendMessageHandler)
	api.POST("/maps/:map_id/messages/cancel", s.cancelHandler)
	api.GET("/maps/ws/:conversation_id/messages/updates", s.wsHandler)

	api.POST("/projects/:project_id/postgis-connections", s.addConnectionHandler)
	api.GET("/projects/:project_id/postgis-connections", s.listConnectionsHandler)
	api.GET("/postgis-connections/:connection_id/summary", s.connectionSummaryHandler)
}

// healthHandler reports process and database health.
func (s *Server) healthHandler(c *echo.Context) error {
	health, err := s.db.Health(c.Request().Context())
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, health)
}
