package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KafClaw/tenka/internal/orchestrator"
	"github.com/KafClaw/tenka/internal/responder"
	"github.com/KafClaw/tenka/internal/timeline"
	"github.com/KafClaw/tenka/internal/tools"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// UserInfo is the company profile a client may attach to a session.
type UserInfo struct {
	Industry            string `json:"industry,omitempty"`
	Products            string `json:"products,omitempty"`
	CompanySize         string `json:"companySize,omitempty"`
	Region              string `json:"region,omitempty"`
	ClientIndustry      string `json:"clientIndustry,omitempty"`
	PriceTransferStatus string `json:"priceTransferStatus,omitempty"`
}

// Profile converts the user info into a responder profile, omitting blanks.
func (u *UserInfo) Profile() responder.Profile {
	if u == nil {
		return nil
	}
	p := responder.Profile{}
	for k, v := range map[string]string{
		"industry":            u.Industry,
		"products":            u.Products,
		"companySize":         u.CompanySize,
		"region":              u.Region,
		"clientIndustry":      u.ClientIndustry,
		"priceTransferStatus": u.PriceTransferStatus,
	} {
		if v = strings.TrimSpace(v); v != "" {
			p[k] = v
		}
	}
	return p
}

type sessionRequest struct {
	SessionID string    `json:"session_id,omitempty"`
	UserInfo  *UserInfo `json:"user_info,omitempty"`
}

type stepRequest struct {
	Step string `json:"step"`
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "tenka advisory API",
		"status":         "ok",
		"version":        s.version,
		"sessions":       s.orch.Sessions().Len(),
		"modes":          s.orch.Catalog().Modes(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := s.orch.CreateSession(strings.TrimSpace(req.SessionID), req.UserInfo.Profile())
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.ID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.orch.Sessions().List()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteSession(r.PathValue("id")); err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.GetSession(r.PathValue("id"))
	if err != nil {
		writeOrchError(w, err)
		return
	}
	snap := sess.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":       snap.Messages,
		"mode":           snap.Mode,
		"mode_confirmed": snap.ModeConfirmed,
		"current_step":   snap.Step,
		"pending":        snap.Pending,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if _, err := s.orch.ResetSession(r.PathValue("id")); err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session cleared"})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.orch.UpdateStep(r.PathValue("id"), req.Step); err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current_step": strings.TrimSpace(req.Step)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.orch.UpdateProfile(r.PathValue("id"), req.UserInfo.Profile()); err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Profile updated"})
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	if s.timeline == nil {
		writeError(w, http.StatusServiceUnavailable, "timeline disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	turns, err := s.timeline.GetTurns(timeline.FilterArgs{SessionID: r.PathValue("id"), Limit: limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if turns == nil {
		turns = []timeline.TurnEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handleCostAnalysis(w http.ResponseWriter, r *http.Request) {
	var in tools.PeriodInput
	if err := decodeJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
		return
	}
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
		return
	}
	res := tools.ComparePeriods(in)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  res,
		"message": res.Summary(),
	})
}

var errEmptyBody = errors.New("empty request body")

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeOrchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, orchestrator.ErrTurnInProgress):
		writeError(w, http.StatusConflict, "A reply is still being generated for this session")
	case errors.Is(err, orchestrator.ErrEmptyMessage), errors.Is(err, orchestrator.ErrInvalidStep):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
