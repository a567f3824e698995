// Package chat runs one conversational turn: describe the database, ask the
// model, run the SQL it wrote and pick a chart for the rows.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rmp4/sql-agent-dashboard/internal/fence"
	"github.com/rmp4/sql-agent-dashboard/internal/llm"
	"github.com/rmp4/sql-agent-dashboard/internal/observability"
	"github.com/rmp4/sql-agent-dashboard/internal/query"
	"github.com/rmp4/sql-agent-dashboard/internal/viz"
)

// Resolver finds the database a turn should run against. An empty id means
// the default database.
type Resolver interface {
	Resolve(ctx context.Context, id string) (query.Executor, error)
}

type Turn struct {
	Message        string
	ConversationID string
	Rules          []map[string]any
	DataSourceID   string
}

type Response struct {
	Response       string        `json:"response"`
	ConversationID string        `json:"conversation_id"`
	SQL            *string       `json:"sql"`
	QueryResult    *query.Result `json:"query_result"`
	Visualization  *viz.Config   `json:"visualization"`
	Metadata       Metadata      `json:"metadata"`
}

type Metadata struct {
	Timestamp  time.Time `json:"timestamp"`
	Model      string    `json:"model"`
	HasSchema  bool      `json:"has_schema"`
	QueryError string    `json:"query_error,omitempty"`
}

type Options struct {
	ModelTimeout time.Duration
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

type Service struct {
	resolver  Resolver
	responder llm.Responder
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService wires a turn handler. resolver may be nil, in which case every
// turn runs without a database.
func NewService(resolver Resolver, responder llm.Responder, opts Options) (*Service, error) {
	if responder == nil {
		return nil, fmt.Errorf("responder is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:  resolver,
		responder: responder,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

func (s *Service) HandleTurn(ctx context.Context, turn Turn) (Response, error) {
	started := time.Now()
	resp, err := s.handleTurn(ctx, turn)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "model_error"
	case resp.Metadata.QueryError != "":
		outcome = "query_error"
	}
	observability.ObserveChatTurn(outcome, time.Since(started))
	return resp, err
}

func (s *Service) handleTurn(ctx context.Context, turn Turn) (Response, error) {
	conversationID := turn.ConversationID
	if conversationID == "" {
		conversationID = s.newID()
	}
	logger := s.logger.With(
		slog.String("conversation_id", conversationID),
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
	)

	executor := s.resolve(ctx, turn.DataSourceID, logger)
	var schema query.Schema
	if executor != nil {
		fetched, err := executor.Schema(ctx)
		if err != nil {
			observability.IncrementSchemaFailure()
			logger.Warn("continuing without schema", slog.Any("error", fmt.Errorf("%w: %w", ErrSchemaIntrospection, err)))
		} else {
			schema = fetched
		}
	}

	reply, err := s.generate(ctx, llm.Request{
		Message:        turn.Message,
		ConversationID: conversationID,
		Schema:         schema,
		Rules:          turn.Rules,
	})
	if err != nil {
		logger.Error("model call failed", slog.Any("error", err))
		return Response{}, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	resp := Response{
		Response:       reply.Text,
		ConversationID: conversationID,
		Metadata: Metadata{
			Timestamp: s.now(),
			Model:     s.responder.Model(),
			HasSchema: schema != nil,
		},
	}

	sqlText, ok := fence.SQL(reply.Text)
	if !ok {
		return resp, nil
	}
	resp.SQL = &sqlText
	if executor == nil {
		return resp, nil
	}

	result, err := s.execute(ctx, executor, sqlText)
	if err != nil {
		logger.Warn("generated query failed", slog.Any("error", fmt.Errorf("%w: %w", ErrQueryExecution, err)))
		resp.Metadata.QueryError = err.Error()
		return resp, nil
	}
	resp.QueryResult = &result
	chart := s.chooseVisualization(reply, result, sqlText, logger)
	resp.Visualization = &chart
	return resp, nil
}

func (s *Service) resolve(ctx context.Context, id string, logger *slog.Logger) query.Executor {
	if s.resolver == nil {
		return nil
	}
	executor, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		if !errors.Is(err, query.ErrNotConfigured) {
			logger.Warn("data source unavailable", slog.String("data_source_id", id), slog.Any("error", err))
		}
		return nil
	}
	return executor
}

func (s *Service) generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if s.opts.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ModelTimeout)
		defer cancel()
	}
	started := time.Now()
	reply, err := s.responder.Generate(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.ObserveModelCall(status, time.Since(started))
	return reply, err
}

func (s *Service) execute(ctx context.Context, executor query.Executor, sqlText string) (query.Result, error) {
	if s.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
	}
	started := time.Now()
	result, err := executor.Execute(ctx, sqlText)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.ObserveQueryExecution(status, time.Since(started))
	return result, err
}

// chooseVisualization prefers a valid model hint, then inference for results
// with at least one row and two columns, then a plain table.
func (s *Service) chooseVisualization(reply llm.Response, result query.Result, sqlText string, logger *slog.Logger) viz.Config {
	if len(reply.Visualization) > 0 {
		hint, err := viz.Decode(reply.Visualization)
		if err == nil {
			observability.IncrementVisualization("hint")
			return hint
		}
		logger.Info("ignoring visualization hint", slog.Any("error", err))
	}
	if len(result.Rows) > 0 && len(result.Columns) >= 2 {
		observability.IncrementVisualization("inferred")
		return viz.Infer(result.Columns, sqlText)
	}
	observability.IncrementVisualization("table")
	return viz.Table()
}
