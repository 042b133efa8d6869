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

// Package assistant runs one user message through routing, retrieval,
// comparison and answer generation and returns a single tagged response.
package assistant

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/clarification"
	"github.com/your-org/broiler-assistant/internal/classifier"
	"github.com/your-org/broiler-assistant/internal/comparison"
	"github.com/your-org/broiler-assistant/internal/conversation"
	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/fusion"
	"github.com/your-org/broiler-assistant/internal/language"
	"github.com/your-org/broiler-assistant/internal/resilience"
	"github.com/your-org/broiler-assistant/internal/retrieval"
	"github.com/your-org/broiler-assistant/internal/router"
	"github.com/your-org/broiler-assistant/internal/session"
)

// Kind tags a Response
type Kind string

const (
	KindSuccess       Kind = "success"
	KindClarification Kind = "clarification"
	KindFallback      Kind = "fallback"
	KindError         Kind = "error"
)

// Generator writes an answer from retrieved documents
type Generator interface {
	Generate(ctx context.Context, query string, docs []fusion.FusedDocument, lang string) (string, error)
}

// Dispatcher sends a routed query to the retrieval backends
type Dispatcher interface {
	Dispatch(ctx context.Context, destination retrieval.Destination, q retrieval.Query) (*retrieval.Result, error)
}

// Request is one user message
type Request struct {
	TenantID  string             `json:"tenant_id"`
	Message   string             `json:"message"`
	Language  string             `json:"language,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
	Entities  *entities.Entities `json:"entities,omitempty"`
}

// Response is the single result type of Handle
type Response struct {
	Kind          Kind                        `json:"kind"`
	RequestID     string                      `json:"request_id"`
	Language      string                      `json:"language"`
	Answer        string                      `json:"answer,omitempty"`
	Message       string                      `json:"message,omitempty"`
	Outcome       router.Outcome              `json:"outcome,omitempty"`
	Destination   retrieval.Destination       `json:"destination,omitempty"`
	Intent        classifier.Intent           `json:"intent,omitempty"`
	Entities      *entities.Entities          `json:"entities,omitempty"`
	MissingFields []entities.Field            `json:"missing_fields,omitempty"`
	Suggestions   map[entities.Field][]string `json:"suggestions,omitempty"`
	Documents     []fusion.FusedDocument      `json:"documents,omitempty"`
	Comparison    *comparison.Outcome         `json:"comparison,omitempty"`
	Confidence    float64                     `json:"confidence"`
	Attempts      int                         `json:"attempts,omitempty"`
	LimitExceeded bool                        `json:"limit_exceeded,omitempty"`
	Notes         []string                    `json:"notes,omitempty"`
	ErrorCode     resilience.ErrorCode        `json:"error_code,omitempty"`
	ProcessingMs  int64                       `json:"processing_ms"`
}

// Config holds pipeline parameters
type Config struct {
	TopK int
}

// Assistant is the request pipeline
type Assistant struct {
	router       *router.Router
	dispatcher   Dispatcher
	comparisons  *comparison.Engine
	conversation *conversation.Manager
	generator    Generator
	errors       *resilience.ErrorHandler
	config       Config
	logger       *zap.Logger
}

// New creates the pipeline. comparisons and generator may be nil.
func New(r *router.Router, dispatcher Dispatcher, comparisons *comparison.Engine, conv *conversation.Manager,
	generator Generator, config Config, logger *zap.Logger) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TopK <= 0 {
		config.TopK = 5
	}
	return &Assistant{
		router:       r,
		dispatcher:   dispatcher,
		comparisons:  comparisons,
		conversation: conv,
		generator:    generator,
		errors:       resilience.NewErrorHandler(logger),
		config:       config,
		logger:       logger,
	}
}

// Handle answers one message. It never returns internal error text. Backend
// failures degrade to a KindFallback response with the localized disclaimer;
// KindError is left for invalid requests and cancelled calls.
func (a *Assistant) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = session.GenerateRequestID()
	}
	lang := language.Canonical(req.Language)
	if req.Language == "" {
		lang = language.Detect(req.Message)
	}

	resp := a.handle(ctx, req, lang)
	resp.RequestID = req.RequestID
	if resp.Language == "" {
		resp.Language = lang
	}
	resp.ProcessingMs = time.Since(start).Milliseconds()

	a.logger.Info("Request handled",
		zap.String("request_id", req.RequestID),
		zap.String("tenant_id", req.TenantID),
		zap.String("kind", string(resp.Kind)),
		zap.String("outcome", string(resp.Outcome)),
		zap.String("destination", string(resp.Destination)),
		zap.Int64("processing_ms", resp.ProcessingMs))
	return resp
}

func (a *Assistant) handle(ctx context.Context, req Request, lang string) Response {
	decision, err := a.router.Route(ctx, router.Request{
		TenantID: req.TenantID,
		Query:    req.Message,
		Language: req.Language,
		Entities: req.Entities,
	})
	if err != nil {
		if errors.Is(err, router.ErrEmptyQuery) || errors.Is(err, router.ErrInvalidTenant) {
			return a.errorResponse(resilience.NewBadRequestError(err.Error(), err), lang)
		}
		return a.errorResponse(err, lang)
	}

	resp := fromDecision(decision)
	switch decision.Outcome {
	case router.OutcomeAwaitingClarification, router.OutcomeRetry:
		resp.Kind = KindClarification
		resp.Message = decision.Message
		return resp

	case router.OutcomeRejected:
		resp.Kind = KindFallback
		resp.Message = decision.Message
		return resp

	case router.OutcomeAbandoned, router.OutcomeLimitExceeded:
		return a.generalAnswer(ctx, decision, resp)
	}

	if decision.Intent == classifier.IntentComparison && a.comparisons != nil {
		if compared, ok := a.compare(ctx, req.TenantID, decision, resp); ok {
			return compared
		}
	}

	return a.retrieve(ctx, req.TenantID, decision, resp)
}

// compare answers comparative questions from the structured store. ok is
// false when the question should go through retrieval instead.
func (a *Assistant) compare(ctx context.Context, tenantID string, d router.Decision, resp Response) (Response, bool) {
	left, right, ok := a.comparisons.Subjects(d.OriginalQuery, d.Language)
	if !ok {
		return resp, false
	}

	out, err := a.comparisons.Compare(ctx, left, right, d.Language)
	if err != nil {
		a.logger.Warn("Comparison failed, falling back to retrieval", zap.Error(err))
		return resp, false
	}

	switch out.Status {
	case comparison.StatusSuccess:
		resp.Kind = KindSuccess
		resp.Comparison = &out
		resp.Answer = out.Summary()
		resp.Confidence = out.Confidence
		resp.Notes = append(resp.Notes, out.Warnings...)
		a.remember(ctx, tenantID, d)
		return resp, true
	case comparison.StatusIncompatibleSpecies, comparison.StatusIncompatibleMetrics:
		resp.Kind = KindFallback
		resp.Comparison = &out
		resp.Message = out.Message
		resp.ErrorCode = resilience.ErrorCodeIncompatible
		if err := out.Err(); err != nil {
			resp.ErrorCode = resilience.CodeFor(err)
		}
		return resp, true
	}
	return resp, false
}

// retrieve runs a routed decision against the backends and generates the
// answer. A generation failure still returns the documents.
func (a *Assistant) retrieve(ctx context.Context, tenantID string, d router.Decision, resp Response) Response {
	result, err := a.dispatcher.Dispatch(ctx, d.Destination, d.RetrievalQuery(a.config.TopK))
	if err != nil {
		// a cancelled request has nobody left to answer
		if ctx.Err() != nil {
			return a.errorResponse(err, d.Language)
		}
		if !errors.Is(err, resilience.ErrRetrievalEmpty) {
			a.logger.Warn("Retrieval failed, answering with the disclaimer",
				zap.String("destination", string(d.Destination)),
				zap.Error(err))
		}
		resp.Kind = KindFallback
		resp.Message = joinMessages(clarification.Disclaimer(d.Language), d.Hint)
		resp.ErrorCode = resilience.CodeFor(err)
		return resp
	}

	resp.Documents = result.Documents
	resp.Confidence = result.Confidence
	resp.Notes = append(resp.Notes, result.Notes...)
	resp.Answer = a.generate(ctx, d, result.Documents)
	if d.Hint != "" {
		resp.Message = d.Hint
	}

	if result.BelowThreshold {
		resp.Kind = KindFallback
		resp.Message = joinMessages(clarification.Disclaimer(d.Language), resp.Message)
		return resp
	}

	resp.Kind = KindSuccess
	a.remember(ctx, tenantID, d)
	return resp
}

// generalAnswer serves an abandoned or exhausted clarification with general
// guidance behind the disclaimer
func (a *Assistant) generalAnswer(ctx context.Context, d router.Decision, resp Response) Response {
	resp.Kind = KindFallback
	resp.Message = d.Message

	result, err := a.dispatcher.Dispatch(ctx, d.Destination, d.RetrievalQuery(a.config.TopK))
	if err != nil {
		a.logger.Debug("No general guidance found", zap.Error(err))
		return resp
	}
	resp.Documents = result.Documents
	resp.Confidence = result.Confidence
	resp.Answer = a.generate(ctx, d, result.Documents)
	return resp
}

func (a *Assistant) generate(ctx context.Context, d router.Decision, docs []fusion.FusedDocument) string {
	if a.generator == nil || len(docs) == 0 {
		return ""
	}
	answer, err := a.generator.Generate(ctx, d.OriginalQuery, docs, d.Language)
	if err != nil {
		a.logger.Warn("Answer generation failed, returning documents only",
			zap.String("destination", string(d.Destination)),
			zap.Error(err))
		return ""
	}
	return answer
}

// remember stores a successfully answered query for follow-ups
func (a *Assistant) remember(ctx context.Context, tenantID string, d router.Decision) {
	if a.conversation == nil {
		return
	}
	if err := a.conversation.StoreLastSuccessfulQuery(ctx, tenantID, d.OriginalQuery, d.Entities, d.Language); err != nil {
		a.logger.Warn("Failed to store last context",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}
}

func (a *Assistant) errorResponse(err error, lang string) Response {
	serviceErr := a.errors.WrapError(err, "processing the request")
	message := clarification.UnableToProcess(lang)
	if serviceErr.Code == resilience.ErrorCodeBadRequest {
		message = serviceErr.Message
	}
	return Response{
		Kind:      KindError,
		Language:  lang,
		Message:   message,
		ErrorCode: serviceErr.Code,
	}
}

func fromDecision(d router.Decision) Response {
	e := d.Entities
	return Response{
		Language:      d.Language,
		Outcome:       d.Outcome,
		Destination:   d.Destination,
		Intent:        d.Intent,
		Entities:      &e,
		MissingFields: d.MissingFields,
		Suggestions:   d.Suggestions,
		Confidence:    d.Confidence,
		Attempts:      d.Attempts,
		LimitExceeded: d.LimitExceeded,
		ErrorCode:     resilience.CodeFor(d.Reason),
	}
}

func joinMessages(parts ...string) string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
