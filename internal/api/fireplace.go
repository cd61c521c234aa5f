package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/proflame-bridge/internal/bridges/proflame"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxHostLen          = 253
)

// FireplaceResponse is the body of GET /fireplace.
type FireplaceResponse struct {
	DeviceID   string             `json:"device_id"`
	Name       string             `json:"name,omitempty"`
	Connected  bool               `json:"connected"`
	Status     proflame.Status    `json:"status"`
	Remembered RememberedSettings `json:"remembered"`
}

// RememberedSettings are the values restored when the fireplace, fan or
// light is switched back on.
type RememberedSettings struct {
	FanSpeed        int    `json:"fan_speed"`
	FlameHeight     int    `json:"flame_height"`
	LightBrightness int    `json:"light_brightness"`
	OperatingMode   string `json:"operating_mode"`
	AdjustableMode  string `json:"adjustable_mode"`
}

type setAttributeRequest struct {
	Value *int `json:"value"`
}

type probeRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (s *Server) handleGetFireplace(w http.ResponseWriter, _ *http.Request) {
	fan, flame, light, mode, adjustable := s.fireplace.Remembered()
	writeJSON(w, http.StatusOK, FireplaceResponse{
		DeviceID:  s.deviceID,
		Name:      s.deviceName,
		Connected: s.client.IsConnected(),
		Status:    s.fireplace.Status(),
		Remembered: RememberedSettings{
			FanSpeed:        fan,
			FlameHeight:     flame,
			LightBrightness: light,
			OperatingMode:   mode.String(),
			AdjustableMode:  adjustable.String(),
		},
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.client.Snapshot()
	state := make(map[string]int, len(snapshot))
	for attr, v := range snapshot {
		state[string(attr)] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": s.deviceID,
		"state":     state,
		"count":     len(state),
	})
}

func (s *Server) handleGetAttribute(w http.ResponseWriter, r *http.Request) {
	attr, err := proflame.ParseAttribute(chi.URLParam(r, "attribute"))
	if err != nil {
		writeNotFound(w, "unknown attribute")
		return
	}

	value, ok := s.client.GetState(attr)
	if !ok {
		writeNotFound(w, "attribute not yet reported")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attribute": string(attr),
		"value":     value,
	})
}

// handleSetAttribute queues a raw write. 202 means queued, not applied: the
// stored value changes only when the fireplace reports it back.
func (s *Server) handleSetAttribute(w http.ResponseWriter, r *http.Request) {
	attr, err := proflame.ParseAttribute(chi.URLParam(r, "attribute"))
	if err != nil {
		writeNotFound(w, "unknown attribute")
		return
	}

	var req setAttributeRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeBadRequest(w, "invalid JSON body: value must be an integer")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value field is required")
		return
	}

	if setErr := s.client.SetState(attr, *req.Value); setErr != nil {
		s.writeFireplaceError(w, setErr)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "queued",
		"attribute": string(attr),
		"value":     *req.Value,
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var action proflame.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if action.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}

	commandID := uuid.NewString()
	if err := s.fireplace.Execute(action); err != nil {
		s.logger.Debug("fireplace command rejected",
			"command_id", commandID,
			"command", action.Command,
			"error", err)
		s.writeFireplaceError(w, err)
		return
	}

	s.logger.Info("fireplace command queued",
		"command_id", commandID,
		"command", action.Command,
		"request_id", requestID(r))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "queued",
		"command_id": commandID,
		"command":    action.Command,
	})
}

func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": proflame.Commands(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeServiceUnavailable(w, "history unavailable")
		return
	}

	attribute := strings.TrimSpace(r.URL.Query().Get("attribute"))
	if attribute != "" {
		if _, err := proflame.ParseAttribute(attribute); err != nil {
			writeBadRequest(w, "unknown attribute")
			return
		}
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.GetHistory(r.Context(), s.deviceID, attribute, limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeInternalError(w, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": s.deviceID,
		"attribute": attribute,
		"history":   entries,
		"count":     len(entries),
	})
}

// handleProbe checks whether a fireplace answers at host:port. It never
// touches the running client.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Host = strings.TrimSpace(req.Host)
	if req.Host == "" || len(req.Host) > maxHostLen {
		writeValidationError(w, "host is required")
		return
	}
	if req.Port == 0 {
		req.Port = proflame.DefaultPort
	}
	if req.Port < 1 || req.Port > 65535 {
		writeValidationError(w, "port must be between 1 and 65535")
		return
	}

	body := map[string]any{
		"host":      req.Host,
		"port":      req.Port,
		"reachable": true,
	}
	if err := s.probe(r.Context(), req.Host, req.Port); err != nil {
		body["reachable"] = false
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
