package api

import (
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/rmp4/sql-agent-dashboard/internal/chat"
)

type chatRequest struct {
	Message        string           `json:"message"`
	ConversationID *string          `json:"conversation_id"`
	Rules          []map[string]any `json:"rules"`
	DataSourceID   *string          `json:"data_source_id"`
}

func (req chatRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Message, validation.Required, notBlank),
	)
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		notConfigured(w, r, "CHAT_NOT_CONFIGURED", "chat")
		return
	}
	var req chatRequest
	if !decodeJSON(w, r, &req, "chat") {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, r, err)
		return
	}

	turn := chat.Turn{Message: req.Message, Rules: req.Rules}
	if req.ConversationID != nil {
		turn.ConversationID = strings.TrimSpace(*req.ConversationID)
	}
	if req.DataSourceID != nil {
		turn.DataSourceID = strings.TrimSpace(*req.DataSourceID)
	}

	resp, err := deps.Chat.HandleTurn(r.Context(), turn)
	if err != nil {
		if errors.Is(err, chat.ErrModelUnavailable) {
			writeError(r.Context(), w, http.StatusInternalServerError, "MODEL_UNAVAILABLE", "language model request failed", true, map[string]any{"details": err.Error()})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_FAILED", "chat turn failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
