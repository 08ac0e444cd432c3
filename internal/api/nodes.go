package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/gateway"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/mqtt"
	"github.com/ImGhostCode/smart-garden/internal/registry"
)

// Pump commands accepted by the API. Nodes ignore anything else.
const (
	PumpOn  = "ON"
	PumpOff = "OFF"
)

// PumpRequest is the body of POST /nodes/{id}/pump.
type PumpRequest struct {
	Command string `json:"command"`
}

// PumpResponse acknowledges a pump command handed to the broker.
type PumpResponse struct {
	NodeID  int    `json:"node_id"`
	Command string `json:"command"`
	Topic   string `json:"topic"`
	Status  string `json:"status"`
}

// handleListNodes returns every configured node.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.store.ListNodes(r.Context())
	if err != nil {
		s.logger.Error("listing nodes", "error", err)
		writeInternalError(w, "failed to list nodes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// handleGetNode returns one node.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeParam(w, r)
	if !ok {
		return
	}

	node, err := s.store.GetNode(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "failed to get node")
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleLatestReading returns the most recent reading of one node.
func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeParam(w, r)
	if !ok {
		return
	}

	reading, err := s.store.LatestReading(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "failed to get latest reading")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handlePump publishes a pump command to the node's command topic. The
// gateway control loop picks it up from the broker like any other command.
func (s *Server) handlePump(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeParam(w, r)
	if !ok {
		return
	}

	var req PumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	command := strings.ToUpper(strings.TrimSpace(req.Command))
	if command != PumpOn && command != PumpOff {
		writeValidationError(w, fmt.Sprintf("command must be %q or %q", PumpOn, PumpOff))
		return
	}

	if s.publisher == nil || !s.publisher.IsConnected() {
		writeUnavailable(w, "mqtt broker not connected")
		return
	}

	topic, err := s.table.TopicFor(address.NodeID(id), s.commandTopic)
	if err != nil {
		s.logger.Error("building command topic", "node_id", id, "error", err)
		writeInternalError(w, "command topic not configured")
		return
	}

	if err := s.publisher.Publish(topic, []byte(command)); err != nil {
		s.logger.Warn("publishing pump command", "node_id", id, "topic", topic, "error", err)
		if errors.Is(err, mqtt.ErrSessionLost) {
			writeUnavailable(w, "mqtt broker not connected")
			return
		}
		writeInternalError(w, "failed to publish command")
		return
	}

	if s.commands != nil {
		s.commands.RecordCommand(r.Context(), gateway.CommandEvent{
			Node:    address.NodeID(id),
			Command: command,
			Source:  gateway.SourceAPI,
			Status:  gateway.CommandRequested,
			At:      s.now(),
		})
	}

	s.logger.Info("pump command requested", "node_id", id, "command", command)
	writeJSON(w, http.StatusAccepted, PumpResponse{
		NodeID:  id,
		Command: command,
		Topic:   topic,
		Status:  gateway.CommandRequested,
	})
}

// handleListReadings returns stored readings, newest first.
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query registry.ReadingQuery

	if v := q.Get("node_id"); v != "" {
		id, err := s.parseNodeID(v)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		query.NodeID = id
	}

	var err error
	if query.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeBadRequest(w, "from: "+err.Error())
		return
	}
	if query.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeBadRequest(w, "to: "+err.Error())
		return
	}
	if query.Limit, err = parseLimit(q.Get("limit")); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	readings, err := s.store.Readings(r.Context(), query)
	if err != nil {
		s.writeStoreError(w, err, "failed to list readings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": readings,
		"count":    len(readings),
	})
}

// handleListCommands returns the command log, newest first.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	nodeID := 0
	if v := q.Get("node_id"); v != "" {
		id, err := s.parseNodeID(v)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		nodeID = id
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	commands, err := s.store.Commands(r.Context(), nodeID, limit)
	if err != nil {
		s.writeStoreError(w, err, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": commands,
		"count":    len(commands),
	})
}

// nodeParam parses and validates the {id} URL parameter, writing a 400 on
// failure.
func (s *Server) nodeParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := s.parseNodeID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return 0, false
	}
	return id, true
}

func (s *Server) parseNodeID(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("node id %q is not a number", v)
	}
	if _, err := s.table.Validate(n); err != nil {
		return 0, fmt.Errorf("node id %d is not configured", n)
	}
	return n, nil
}

// writeStoreError maps registry errors onto HTTP responses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, registry.ErrNodeNotFound), errors.Is(err, registry.ErrNoReadings):
		writeNotFound(w, err.Error())
	case errors.Is(err, registry.ErrInvalidQuery):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error(msg, "error", err)
		writeInternalError(w, msg)
	}
}

// parseTimeParam accepts RFC 3339 timestamps. Empty means unbounded.
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 timestamp, got %q", v)
	}
	return t, nil
}

// parseLimit parses the limit parameter. Zero selects the store default;
// the store enforces the upper bound.
func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return n, nil
}
