package api

import (
	"context"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/buntinglabs/mundi/pkg/agent"
	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/postgis"
)

// AddConnectionRequest is the body for adding a PostGIS connection.
type AddConnectionRequest struct {
	ConnectionURI string `json:"connection_uri"`
	FriendlyName  string `json:"friendly_name"`
}

// addConnectionHandler validates and stores a user-supplied PostGIS URI,
// then kicks off schema documentation in the background.
func (s *Server) addConnectionHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := currentUser(c)
	projectID := c.Param("project_id")

	var req AddConnectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ConnectionURI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "connection_uri is required")
	}
	if req.FriendlyName == "" {
		req.FriendlyName = "PostGIS database"
	}

	storedURI, rewritten, err := postgis.ValidateURI(req.ConnectionURI, s.cfg.LocalhostPolicy)
	if err != nil {
		return mapServiceError(err)
	}
	if rewritten {
		slog.Info("Rewrote loopback database host for container networking", "project_id", projectID)
	}

	conn, err := s.connections.Add(ctx, projectID, userID, storedURI, req.FriendlyName)
	if err != nil {
		return mapServiceError(err)
	}

	// Documentation needs the user database and the LLM; it runs detached
	// so the add call stays fast. Failures land in last_error bookkeeping.
	documenter := &agent.Documenter{
		Connections: s.connections,
		PostGIS:     s.pgManager,
		LLM:         s.llm,
		Coord:       s.coord,
	}
	go func() {
		if err := documenter.Run(context.Background(), conn.ID, userID); err != nil {
			slog.Warn("Database documentation failed", "connection_id", conn.ID, "error", err)
		}
	}()

	return c.JSON(http.StatusOK, conn)
}

func (s *Server) listConnectionsHandler(c *echo.Context) error {
	list, err := s.connections.ListByProject(c.Request().Context(), c.Param("project_id"), currentUser(c))
	if err != nil {
		return mapServiceError(err)
	}
	if list == nil {
		list = []*models.PGConnection{}
	}
	return c.JSON(http.StatusOK, list)
}

// connectionSummaryHandler returns the generated database summary, or the
// in-flight progress when documentation is still running.
func (s *Server) connectionSummaryHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	connectionID := c.Param("connection_id")

	if _, err := s.connections.Get(ctx, connectionID, currentUser(c)); err != nil {
		return mapServiceError(err)
	}

	summary, err := s.connections.GetSummary(ctx, connectionID)
	if err == nil {
		return c.JSON(http.StatusOK, summary)
	}

	progress, perr := s.coord.DocumenterProgress(ctx, connectionID)
	if perr == nil && progress != "" {
		return c.JSON(http.StatusAccepted, map[string]any{
			"status":   "generating",
			"progress": progress,
		})
	}
	return mapServiceError(err)
}
