package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/buntinglabs/mundi/pkg/models"
)

// CreateConversationRequest is the body for POST /api/conversations.
type CreateConversationRequest struct {
	ProjectID string `json:"project_id"`
}

func (s *Server) createConversationHandler(c *echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id is required")
	}

	conv, err := s.conversations.Create(c.Request().Context(), currentUser(c), req.ProjectID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) listConversationsHandler(c *echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id is required")
	}
	list, err := s.conversations.ListByProject(c.Request().Context(), projectID, currentUser(c))
	if err != nil {
		return mapServiceError(err)
	}
	if list == nil {
		list = []*models.Conversation{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) listMessagesHandler(c *echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	ctx := c.Request().Context()
	if _, err := s.conversations.Get(ctx, id, currentUser(c)); err != nil {
		return mapServiceError(err)
	}
	messages, err := s.messages.SanitizedHistory(ctx, id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, messages)
}

// SendMessageRequest is the body for the send endpoint.
type SendMessageRequest struct {
	Content         string          `json:"content"`
	SelectedFeature json.RawMessage `json:"selected_feature,omitempty"`
}

// sendMessageHandler persists the turn's system and user messages, launches
// the agent loop in the background, and returns immediately.
func (s *Server) sendMessageHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := currentUser(c)

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if len(req.Content) > 100_000 {
		return echo.NewHTTPError(http.StatusBadRequest, "content exceeds maximum length of 100,000 characters")
	}

	m, err := s.maps.GetMap(ctx, c.Param("map_id"), userID)
	if err != nil {
		return mapServiceError(err)
	}

	conv, err := s.resolveConversation(c, m.ProjectID, userID)
	if err != nil {
		return err
	}

	if err := s.coord.AcquireConversation(ctx, conv.ID); err != nil {
		return mapServiceError(err)
	}
	// The lock is held from here on; the background loop releases it. On
	// any error before the loop starts, release explicitly.

	systemBodies, err := s.mapState.Build(ctx, m, userID, req.SelectedFeature)
	if err != nil {
		_ = s.coord.ReleaseConversation(ctx, conv.ID)
		return mapServiceError(err)
	}
	for _, body := range systemBodies {
		if _, err := s.messages.Insert(ctx, conv.ID, m.ID, userID, body); err != nil {
			_ = s.coord.ReleaseConversation(ctx, conv.ID)
			return mapServiceError(err)
		}
	}

	userMsgID, err := s.messages.Insert(ctx, conv.ID, m.ID, userID, models.MessageBody{
		Role:    models.RoleUser,
		Content: req.Content,
	})
	if err != nil {
		_ = s.coord.ReleaseConversation(ctx, conv.ID)
		return mapServiceError(err)
	}

	// The loop outlives the request; it runs on a fresh context.
	go s.newLoop().Run(context.Background(), conv, m, userID)

	return c.JSON(http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"sent_message":    req.Content,
		"message_id":      userMsgID,
		"status":          "processing_started",
	})
}

// resolveConversation loads the target conversation, creating one when the
// path segment is NEW.
func (s *Server) resolveConversation(c *echo.Context, projectID, userID string) (*models.Conversation, error) {
	ctx := c.Request().Context()
	param := c.Param("conversation_id")
	if param == "NEW" {
		conv, err := s.conversations.Create(ctx, userID, projectID)
		if err != nil {
			return nil, mapServiceError(err)
		}
		return conv, nil
	}

	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	conv, err := s.conversations.Get(ctx, id, userID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return conv, nil
}

// cancelHandler flags all in-flight processing on a map for cancellation.
func (s *Server) cancelHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	m, err := s.maps.GetMap(ctx, c.Param("map_id"), currentUser(c))
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.coord.RequestCancel(ctx, m.ID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "cancel_requested"})
}
