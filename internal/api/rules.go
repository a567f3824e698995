package api

import (
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
)

type ruleCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Scope       string `json:"scope"`
	Prompt      string `json:"prompt"`
	Active      *bool  `json:"active"`
}

func (req ruleCreateRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.Required, notBlank, validation.Length(1, 255)),
		validation.Field(&req.Scope, validation.Required, notBlank),
		validation.Field(&req.Prompt, validation.Required, notBlank),
	)
}

type ruleUpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Scope       *string `json:"scope"`
	Prompt      *string `json:"prompt"`
	Active      *bool   `json:"active"`
}

func (req ruleUpdateRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, notBlank, validation.Length(1, 255)),
		validation.Field(&req.Scope, notBlank),
		validation.Field(&req.Prompt, notBlank),
	)
}

type ruleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Scope       string    `json:"scope"`
	Prompt      string    `json:"prompt"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRuleResponse(rule catalog.Rule) ruleResponse {
	return ruleResponse{
		ID:          rule.ID,
		Name:        rule.Name,
		Description: rule.Description,
		Scope:       rule.Scope,
		Prompt:      rule.Prompt,
		Active:      rule.Active,
		CreatedAt:   rule.CreatedAt,
		UpdatedAt:   rule.UpdatedAt,
	}
}

func handleListRules(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "RULES_NOT_CONFIGURED", "catalog")
		return
	}
	rules, err := deps.Catalog.ListRules(r.Context())
	if err != nil {
		catalogError(w, r, err, "", "list rules")
		return
	}
	items := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		items = append(items, toRuleResponse(rule))
	}
	writeJSON(w, http.StatusOK, items)
}

func handleCreateRule(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "RULES_NOT_CONFIGURED", "catalog")
		return
	}
	var req ruleCreateRequest
	if !decodeJSON(w, r, &req, "create rule") {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, r, err)
		return
	}
	rule, err := deps.Catalog.CreateRule(r.Context(), catalog.CreateRuleInput{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Scope:       strings.TrimSpace(req.Scope),
		Prompt:      req.Prompt,
		Active:      req.Active,
	})
	if err != nil {
		catalogError(w, r, err, "", "create rule")
		return
	}
	writeJSON(w, http.StatusCreated, toRuleResponse(rule))
}

func handleGetRule(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "RULES_NOT_CONFIGURED", "catalog")
		return
	}
	rule, err := deps.Catalog.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		catalogError(w, r, err, "Rule not found", "get rule")
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

func handleUpdateRule(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "RULES_NOT_CONFIGURED", "catalog")
		return
	}
	var req ruleUpdateRequest
	if !decodeJSON(w, r, &req, "update rule") {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, r, err)
		return
	}
	rule, err := deps.Catalog.UpdateRule(r.Context(), r.PathValue("id"), catalog.UpdateRuleInput{
		Name:        trimmed(req.Name),
		Description: req.Description,
		Scope:       trimmed(req.Scope),
		Prompt:      req.Prompt,
		Active:      req.Active,
	})
	if err != nil {
		catalogError(w, r, err, "Rule not found", "update rule")
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

func handleDeleteRule(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "RULES_NOT_CONFIGURED", "catalog")
		return
	}
	if err := deps.Catalog.DeleteRule(r.Context(), r.PathValue("id")); err != nil {
		catalogError(w, r, err, "Rule not found", "delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
