// Package llm asks a language model to answer a data question with prose,
// an optional SQL block and an optional chart suggestion.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rmp4/sql-agent-dashboard/internal/query"
)

type Request struct {
	Message        string
	ConversationID string
	// Schema is nil when no database could be described.
	Schema query.Schema
	Rules  []map[string]any
}

type Response struct {
	Text string
	// Visualization is the model's chart suggestion as a raw JSON object, or
	// nil when the reply carried none that parsed.
	Visualization json.RawMessage
}

type Responder interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Model() string
}

// DemoModel is reported by DemoResponder.
const DemoModel = "demo"

// DemoResponder answers without a model. It is used when no API key is set.
type DemoResponder struct{}

func (DemoResponder) Generate(_ context.Context, req Request) (Response, error) {
	return Response{
		Text: fmt.Sprintf("[DEMO MODE] You asked: %s\n\nThis is a demo response. Please set OPENAI_API_KEY in your .env file to enable real AI responses.", req.Message),
	}, nil
}

func (DemoResponder) Model() string {
	return DemoModel
}
