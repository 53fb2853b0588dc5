// Package medal serves the load/save helpers task documents use to persist
// their state: GET /load/{taskID} and POST /save/{taskID}.
package medal

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/auth"
	"github.com/gosuda/taskbridge/internal/domain"
)

const (
	tokenParam = "sToken"
	maxGrade   = 255
	maxForm    = 1 << 20
)

// StarTable resolves how many stars a task's grades scale to.
// config.PlatformFile satisfies this interface.
type StarTable interface {
	StarsFor(taskID string) int
}

// Handler serves the load/save endpoints of one host.
type Handler struct {
	repo          domain.SubmissionRepository
	sessionSecret string
	stars         StarTable
	now           func() time.Time
}

// NewHandler creates a handler storing submissions in repo.
func NewHandler(repo domain.SubmissionRepository, sessionSecret string, stars StarTable) *Handler {
	return &Handler{
		repo:          repo,
		sessionSecret: sessionSecret,
		stars:         stars,
		now:           time.Now,
	}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/load/{taskID}", h.Load)
	r.Post("/save/{taskID}", h.Save)
	r.Get("/grade/{taskID}", h.Grade)
}

// Load writes the latest value saved for the task, or {} when there is none.
func (h *Handler) Load(w http.ResponseWriter, r *http.Request) {
	claims, taskID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	session, _ := claims.Session()

	sub, err := h.repo.Latest(r.Context(), session.ID, taskID, r.URL.Query().Get("subtask"))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeRaw(w, "{}")
	case err != nil:
		log.Error().Err(err).Str("task_id", taskID).Msg("medal: load submission")
		writeError(w, http.StatusInternalServerError, "load failed")
	default:
		writeRaw(w, sub.Value)
	}
}

// Save stores the form values csrf, data, grade and subtask.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxForm)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	claims, taskID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	csrf := r.PostForm.Get("csrf")
	if csrf == "" {
		csrf = r.PostForm.Get("csrf_token")
	}
	if subtle.ConstantTimeCompare([]byte(csrf), []byte(claims.CSRF)) != 1 {
		writeError(w, http.StatusForbidden, "invalid csrf token")
		return
	}

	grade, err := parseGrade(r.PostForm.Get("grade"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, _ := claims.Session()
	sub := &domain.Submission{
		ID:        uuid.New(),
		SessionID: session.ID,
		TaskID:    taskID,
		Subtask:   r.PostForm.Get("subtask"),
		Grade:     grade,
		Value:     r.PostForm.Get("data"),
		CreatedAt: h.now().UTC(),
	}
	if err := h.repo.Create(r.Context(), sub); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("medal: save submission")
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}

	log.Debug().
		Str("task_id", taskID).
		Str("session_id", session.ID.String()).
		Int("grade", grade).
		Msg("submission saved")
	writeRaw(w, "{}")
}

type gradeResponse struct {
	Grade int `json:"grade"`
	Stars int `json:"stars"`
}

// Grade writes the best grade of the session for the task, scaled to the
// task's stars when configured.
func (h *Handler) Grade(w http.ResponseWriter, r *http.Request) {
	claims, taskID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	session, _ := claims.Session()

	var resp gradeResponse
	best, err := h.repo.BestGrade(r.Context(), session.ID, taskID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		log.Error().Err(err).Str("task_id", taskID).Msg("medal: best grade")
		writeError(w, http.StatusInternalServerError, "grade lookup failed")
		return
	default:
		resp.Grade = best.Grade
		resp.Stars = domain.ScaleGrade(best.Grade, h.stars.StarsFor(taskID))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// authorize resolves the session token sent with r. Sessions bound to a task
// may only touch that task.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (*auth.Claims, string, bool) {
	taskID := chi.URLParam(r, "taskID")

	claims, err := auth.ValidateSessionToken(h.sessionSecret, sessionToken(r))
	if err != nil {
		writeError(w, http.StatusForbidden, "invalid session")
		return nil, "", false
	}
	if _, err := claims.Session(); err != nil {
		writeError(w, http.StatusForbidden, "invalid session")
		return nil, "", false
	}
	if claims.TaskID != "" && claims.TaskID != taskID {
		writeError(w, http.StatusForbidden, "session is bound to another task")
		return nil, "", false
	}

	return claims, taskID, true
}

func sessionToken(r *http.Request) string {
	if tok := r.URL.Query().Get(tokenParam); tok != "" {
		return tok
	}
	if c, err := r.Cookie(tokenParam); err == nil {
		return c.Value
	}
	return ""
}

var errInvalidGrade = errors.New("grade must be an integer between 0 and 255") //nolint:gochecknoglobals // sentinel error

// parseGrade reads the JSON-encoded grade sent by the helpers. A missing
// grade is 0.
func parseGrade(s string) (int, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if s == "" {
		return 0, nil
	}
	g, err := strconv.Atoi(s)
	if err != nil || g < 0 || g > maxGrade {
		return 0, errInvalidGrade
	}
	return g, nil
}

func writeRaw(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
