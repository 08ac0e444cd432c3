package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/automation"
)

// RuleStore manages automation rules. *automation.Registry satisfies it.
type RuleStore interface {
	ListRules(ctx context.Context, node address.NodeID) []automation.Rule
	GetRule(ctx context.Context, id string) (*automation.Rule, error)
	CreateRule(ctx context.Context, rule *automation.Rule) error
	UpdateRule(ctx context.Context, rule *automation.Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// PumpStates reports the pump state of every node. *automation.Engine
// satisfies it.
type PumpStates interface {
	PumpStates() []automation.PumpState
}

// RuleRequest is the body of POST /rules and PUT /rules/{ruleID}. Omitted
// fields take their defaults on create and keep their value on update.
type RuleRequest struct {
	Name               *string                  `json:"name"`
	NodeID             *int                     `json:"node_id"`
	Metric             *string                  `json:"metric"`
	Min                *float64                 `json:"min"`
	DurationSec        *int                     `json:"duration_sec"`
	CooldownSec        *int                     `json:"cooldown_sec"`
	MaxDailyRuntimeSec *int                     `json:"max_daily_runtime_sec"`
	Enabled            *bool                    `json:"enabled"`
	Windows            *[]automation.TimeWindow `json:"time_windows"`
}

// apply copies the set fields onto rule.
func (req *RuleRequest) apply(rule *automation.Rule) {
	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.NodeID != nil {
		rule.NodeID = address.NodeID(*req.NodeID)
	}
	if req.Metric != nil {
		rule.Metric = automation.Metric(strings.ToLower(strings.TrimSpace(*req.Metric)))
	}
	if req.Min != nil {
		rule.Min = *req.Min
	}
	if req.DurationSec != nil {
		rule.DurationSec = *req.DurationSec
	}
	if req.CooldownSec != nil {
		rule.CooldownSec = *req.CooldownSec
	}
	if req.MaxDailyRuntimeSec != nil {
		rule.MaxDailyRuntimeSec = *req.MaxDailyRuntimeSec
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Windows != nil {
		rule.Windows = *req.Windows
	}
}

// handleListRules returns every rule, or one node's rules with ?node_id.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if !s.rulesEnabled(w) {
		return
	}

	var node address.NodeID
	if v := r.URL.Query().Get("node_id"); v != "" {
		id, err := s.parseNodeID(v)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		node = address.NodeID(id)
	}

	rules := s.rules.ListRules(r.Context(), node)
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// handleCreateRule creates a rule. node_id, metric and min are required.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesEnabled(w) {
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.NodeID == nil || req.Metric == nil || req.Min == nil {
		writeValidationError(w, "node_id, metric and min are required")
		return
	}

	rule := automation.Rule{
		DurationSec:        automation.DefaultDurationSec,
		CooldownSec:        automation.DefaultCooldownSec,
		MaxDailyRuntimeSec: automation.DefaultMaxDailyRuntimeSec,
		Enabled:            true,
	}
	req.apply(&rule)

	if err := s.rules.CreateRule(r.Context(), &rule); err != nil {
		s.writeRuleError(w, err, "failed to create rule")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// handleGetRule returns one rule.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesEnabled(w) {
		return
	}

	rule, err := s.rules.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		s.writeRuleError(w, err, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleUpdateRule changes the fields present in the body.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesEnabled(w) {
		return
	}

	rule, err := s.rules.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		s.writeRuleError(w, err, "failed to get rule")
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.apply(rule)

	if err := s.rules.UpdateRule(r.Context(), rule); err != nil {
		s.writeRuleError(w, err, "failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleDeleteRule removes a rule.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesEnabled(w) {
		return
	}

	if err := s.rules.DeleteRule(r.Context(), chi.URLParam(r, "ruleID")); err != nil {
		s.writeRuleError(w, err, "failed to delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListPumps returns the pump state of every node.
func (s *Server) handleListPumps(w http.ResponseWriter, _ *http.Request) {
	if s.pumps == nil {
		writeUnavailable(w, "automation disabled")
		return
	}
	states := s.pumps.PumpStates()
	writeJSON(w, http.StatusOK, map[string]any{
		"pumps": states,
		"count": len(states),
	})
}

func (s *Server) rulesEnabled(w http.ResponseWriter) bool {
	if s.rules == nil {
		writeUnavailable(w, "automation disabled")
		return false
	}
	return true
}

// writeRuleError maps automation errors onto HTTP responses.
func (s *Server) writeRuleError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, automation.ErrRuleNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, automation.ErrInvalidRule), errors.Is(err, automation.ErrInvalidWindow):
		writeValidationError(w, err.Error())
	case errors.Is(err, automation.ErrRuleExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		s.logger.Error(msg, "error", err)
		writeInternalError(w, msg)
	}
}
