package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CalorieCoach/internal/coach"
	"github.com/BTreeMap/CalorieCoach/internal/estimator"
	"github.com/BTreeMap/CalorieCoach/internal/models"
	"github.com/BTreeMap/CalorieCoach/internal/util"
)

// sessionView is the representation of a session returned by the API.
type sessionView struct {
	SessionID string           `json:"session_id"`
	Greeting  string           `json:"greeting,omitempty"`
	Intensity models.Intensity `json:"intensity"`
	Profile   models.Profile   `json:"profile"`
	CreatedAt time.Time        `json:"created_at"`
}

// turnView is the result of a submitted turn.
type turnView struct {
	SessionID string             `json:"session_id"`
	Kind      models.ContentKind `json:"kind"`
	Reply     models.Content     `json:"reply"`
}

type intensityRequest struct {
	Intensity string `json:"intensity"`
}

func newSessionView(sess *coach.Session) sessionView {
	return sessionView{
		SessionID: sess.ID,
		Intensity: sess.Intensity(),
		Profile:   sess.Profile().Snapshot(),
		CreatedAt: sess.CreatedAt,
	}
}

// lookupSession resolves the {id} path value, answering 404 when it is unknown.
// Only IDs minted by POST /sessions resolve; chat-channel sessions share the store
// under other keys and stay unreachable here.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*coach.Session, bool) {
	id := r.PathValue("id")
	sess, ok := s.getAPISession(id)
	if !ok {
		slog.Warn("Server.lookupSession: session not found", "sessionID", id, "path", r.URL.Path)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return nil, false
	}
	return sess, true
}

func (s *Server) getAPISession(id string) (*coach.Session, bool) {
	if !util.IsSessionID(id) {
		return nil, false
	}
	return s.sessions.Get(id)
}

// createSessionHandler handles POST /sessions.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	view := newSessionView(sess)
	view.Greeting = coach.Greeting
	slog.Info("Server.createSessionHandler: session created", "sessionID", sess.ID, "live_sessions", s.sessions.Len())
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Session created", view))
}

// deleteSessionHandler handles DELETE /sessions/{id}.
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !util.IsSessionID(id) || !s.sessions.Delete(id) {
		slog.Warn("Server.deleteSessionHandler: session not found", "sessionID", id)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	slog.Info("Server.deleteSessionHandler: session deleted", "sessionID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))
}

// messagesHandler handles GET /sessions/{id}/messages.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	turns := sess.Log().Turns()
	slog.Debug("Server.messagesHandler: returning conversation", "sessionID", sess.ID, "turns", len(turns))
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"session_id": sess.ID,
		"greeting":   coach.Greeting,
		"turns":      turns,
	}))
}

// turnHandler handles POST /sessions/{id}/turns. Pipeline failures come back as
// replies, so any validated request is answered with 200.
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req models.TurnRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "sessionID", sess.ID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.turnHandler: validation failed", "sessionID", sess.ID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	// An omitted intensity falls back to the session's selection inside Turn.
	var intensity models.Intensity
	if req.Intensity != "" {
		intensity, _ = models.ParseIntensity(req.Intensity)
	}

	start := time.Now()
	reply := sess.Turn(r.Context(), s.orchestrator, req.Text, intensity)
	slog.Info("Server.turnHandler: turn completed", "sessionID", sess.ID, "kind", reply.Kind(), "duration", time.Since(start))

	writeJSONResponse(w, http.StatusOK, models.Success(turnView{
		SessionID: sess.ID,
		Kind:      reply.Kind(),
		Reply:     reply,
	}))
}

// getProfileHandler handles GET /sessions/{id}/profile.
func (s *Server) getProfileHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"profile": sess.Profile().Snapshot(),
		"summary": sess.Profile().Summary(),
	}))
}

// updateProfileHandler handles PUT /sessions/{id}/profile with a partial update.
func (s *Server) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var update models.ProfileUpdate
	if err := decodeJSONBody(w, r, &update); err != nil {
		slog.Warn("Server.updateProfileHandler: failed to decode JSON", "sessionID", sess.ID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	profile, err := sess.Profile().Update(update)
	if err != nil {
		slog.Warn("Server.updateProfileHandler: invalid profile update", "sessionID", sess.ID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	slog.Info("Server.updateProfileHandler: profile updated", "sessionID", sess.ID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Profile updated", map[string]interface{}{
		"profile": profile,
		"summary": coach.ProfileSummary(&profile),
	}))
}

// clearProfileHandler handles DELETE /sessions/{id}/profile.
func (s *Server) clearProfileHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sess.Profile().Clear()
	slog.Info("Server.clearProfileHandler: profile cleared", "sessionID", sess.ID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Profile cleared", nil))
}

// intensityHandler handles PUT /sessions/{id}/intensity.
func (s *Server) intensityHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req intensityRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.intensityHandler: failed to decode JSON", "sessionID", sess.ID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	intensity, err := models.ParseIntensity(req.Intensity)
	if err == nil {
		err = sess.SetIntensity(intensity)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrInvalidIntensity) {
			status = http.StatusBadRequest
		}
		slog.Warn("Server.intensityHandler: invalid intensity", "sessionID", sess.ID, "error", err)
		writeJSONResponse(w, status, models.Error(err.Error()))
		return
	}

	slog.Info("Server.intensityHandler: intensity changed", "sessionID", sess.ID, "intensity", intensity)
	writeJSONResponse(w, http.StatusOK, models.Success(newSessionView(sess)))
}

// foodsHandler handles GET /foods with the keyword calorie table.
func (s *Server) foodsHandler(w http.ResponseWriter, r *http.Request) {
	table := estimator.Table()
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"foods": table,
		"count": len(table),
		"note":  estimator.Note,
	}))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	cfg := s.orchestrator.Config()
	healthData := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":  int64(time.Since(s.startedAt).Seconds()),
		"active_sessions": s.sessions.Len(),
		"estimator":       cfg.Estimator,
		"output":          cfg.Output,
		"use_profile":     cfg.UseProfile,
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}
