// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/assistant"
	"github.com/your-org/broiler-assistant/internal/conversation"
	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/health"
	"github.com/your-org/broiler-assistant/internal/resilience"
	"github.com/your-org/broiler-assistant/internal/router"
	"github.com/your-org/broiler-assistant/internal/session"
)

// ChatRequest is the body of POST /v1/chat and POST /v1/route
type ChatRequest struct {
	TenantID string             `json:"tenant_id,omitempty"`
	Message  string             `json:"message" binding:"required"`
	Language string             `json:"language,omitempty"`
	Entities *entities.Entities `json:"entities,omitempty"`
}

type chatService interface {
	Handle(ctx context.Context, req assistant.Request) assistant.Response
}

type routeService interface {
	Route(ctx context.Context, req router.Request) (router.Decision, error)
}

type server struct {
	assistant    chatService
	router       routeService
	conversation *conversation.Manager
	health       *health.Manager
	logger       *zap.Logger
}

func newServer(chat chatService, route routeService, conv *conversation.Manager, h *health.Manager, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &server{
		assistant:    chat,
		router:       route,
		conversation: conv,
		health:       h,
		logger:       logger,
	}
}

func (s *server) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(conversation.RequestLoggingMiddleware("assistant"))
	engine.Use(conversation.CORSMiddleware())

	if s.health != nil {
		engine.GET("/health", s.health.GinHandler())
	}

	engine.POST("/v1/chat", s.handleChat)
	engine.POST("/v1/route", s.handleRoute)

	if s.conversation != nil {
		conversation.NewAPIHandler(s.conversation, s.logger).RegisterRoutes(engine)
	}

	return engine
}

// bind parses the body and resolves the tenant
func (s *server) bind(c *gin.Context) (ChatRequest, string, bool) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, resilience.NewBadRequestError("Invalid request format", err))
		return req, "", false
	}

	req.Message = session.SanitizeUserInput(req.Message)
	if req.Message == "" {
		s.writeError(c, resilience.NewBadRequestError("Message must not be empty", nil))
		return req, "", false
	}

	tenantID := session.ResolveTenantID(req.TenantID, c.GetHeader("X-Tenant-ID"), c.ClientIP())
	return req, tenantID, true
}

// handleChat handles POST /v1/chat
func (s *server) handleChat(c *gin.Context) {
	req, tenantID, ok := s.bind(c)
	if !ok {
		return
	}

	resp := s.assistant.Handle(c.Request.Context(), assistant.Request{
		TenantID:  tenantID,
		Message:   req.Message,
		Language:  req.Language,
		RequestID: c.GetHeader("X-Request-ID"),
		Entities:  req.Entities,
	})

	c.Header("X-Request-ID", resp.RequestID)
	c.JSON(statusFor(resp), resp)
}

// handleRoute handles POST /v1/route. It runs the dialogue state machine
// without retrieving anything.
func (s *server) handleRoute(c *gin.Context) {
	req, tenantID, ok := s.bind(c)
	if !ok {
		return
	}

	decision, err := s.router.Route(c.Request.Context(), router.Request{
		TenantID: tenantID,
		Query:    req.Message,
		Language: req.Language,
		Entities: req.Entities,
	})
	if err != nil {
		if errors.Is(err, router.ErrEmptyQuery) || errors.Is(err, router.ErrInvalidTenant) {
			s.writeError(c, resilience.NewBadRequestError(err.Error(), err))
			return
		}
		s.writeError(c, resilience.NewErrorHandler(s.logger).WrapError(err, "routing the query"))
		return
	}

	c.JSON(http.StatusOK, decision)
}

func (s *server) writeError(c *gin.Context, serviceErr *resilience.ServiceError) {
	if serviceErr.StatusCode >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", string(serviceErr.Code)),
			zap.Error(serviceErr.Internal))
	}
	c.JSON(serviceErr.StatusCode, resilience.ErrorResponse{
		Error:     serviceErr.Message,
		Code:      string(serviceErr.Code),
		RequestID: c.GetHeader("X-Request-ID"),
		Timestamp: time.Now(),
	})
}

// statusFor maps a pipeline response to an HTTP status. Clarifications and
// fallbacks are answers, so only error responses leave the 2xx range.
func statusFor(resp assistant.Response) int {
	if resp.Kind != assistant.KindError {
		return http.StatusOK
	}
	switch resp.ErrorCode {
	case resilience.ErrorCodeBadRequest:
		return http.StatusBadRequest
	case resilience.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case resilience.ErrorCodeServiceUnavailable, resilience.ErrorCodeDependencyFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
