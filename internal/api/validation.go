package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// writeValidationError reports field errors from ozzo-validation as
// VALIDATION_FAILED with the per-field messages in context.
func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	fields := map[string]string{}
	var errs validation.Errors
	if errors.As(err, &errs) {
		for field, fieldErr := range errs {
			fields[field] = fieldErr.Error()
		}
	}
	writeError(r.Context(), w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), false, map[string]any{"fields": fields})
}

// notBlank rejects strings that are empty after trimming.
var notBlank = validation.By(func(value any) error {
	switch typed := value.(type) {
	case string:
		if strings.TrimSpace(typed) == "" {
			return errors.New("cannot be blank")
		}
	case *string:
		if typed != nil && strings.TrimSpace(*typed) == "" {
			return errors.New("cannot be blank")
		}
	}
	return nil
})

// jsonObject accepts an absent value, JSON null or a JSON object.
var jsonObject = validation.By(func(value any) error {
	raw, ok := value.(json.RawMessage)
	if !ok || isNullJSON(raw) {
		return nil
	}
	var object map[string]any
	if err := json.Unmarshal(raw, &object); err != nil {
		return fmt.Errorf("must be a JSON object")
	}
	return nil
})

func isNullJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func nullableJSON(raw json.RawMessage) []byte {
	if isNullJSON(raw) {
		return nil
	}
	return []byte(raw)
}

// requiredJSONObject is jsonObject that also rejects absent and null values.
var requiredJSONObject = validation.By(func(value any) error {
	raw, _ := value.(json.RawMessage)
	if isNullJSON(raw) {
		return errors.New("is required")
	}
	var object map[string]any
	if err := json.Unmarshal(raw, &object); err != nil {
		return fmt.Errorf("must be a JSON object")
	}
	return nil
})
