package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tukangworks/tukang/internal/catalog"
	"github.com/tukangworks/tukang/internal/composer"
	"github.com/tukangworks/tukang/internal/definition"
	"github.com/tukangworks/tukang/internal/observability"
	"github.com/tukangworks/tukang/internal/session"
	"github.com/tukangworks/tukang/model"
)

// Handlers implements the /ui API surface.
type Handlers struct {
	registry *definition.Registry
	sessions *session.Manager
	backend  *catalog.Client
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewHandlers wires the request handlers to their dependencies.
func NewHandlers(registry *definition.Registry, sessions *session.Manager,
	backend *catalog.Client, metrics *observability.Metrics, logger *zap.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		sessions: sessions,
		backend:  backend,
		metrics:  metrics,
		logger:   logger,
	}
}

// ListScreens returns the screens visible to the caller's roles.
func (h *Handlers) ListScreens(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	var out []model.ScreenDescriptor
	for _, screen := range h.registry.AllScreens() {
		if !rctx.HasAnyRole(screen.Roles...) {
			continue
		}
		out = append(out, model.ScreenDescriptor{ID: screen.ID, Title: screen.Title})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"screens": out})
}

// GetScreen returns the full definition of one screen.
func (h *Handlers) GetScreen(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screenForCaller(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, model.ScreenDescriptor{
		ID:        screen.ID,
		Title:     screen.Title,
		Fields:    screen.Fields,
		Selectors: screen.Selectors,
		Sections:  screen.Sections,
	})
}

// CreateSession mounts a new form session for a screen. With ?load=true the
// session is hydrated from the screen's load endpoint.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screenForCaller(w, r)
	if !ok {
		return
	}
	rctx := model.MustRequestContext(r.Context())

	s, err := h.sessions.Create(r.Context(), screen, rctx.SubjectID)
	if err != nil {
		WriteError(w, err)
		return
	}

	if r.URL.Query().Get("load") == "true" {
		if err := s.Hydrate(r.Context(), h.backend); err != nil {
			h.sessions.Delete(s.ID)
			WriteError(w, err)
			return
		}
	}
	WriteJSON(w, http.StatusCreated, s.Descriptor())
}

// GetSession returns the full state of a session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.Descriptor())
}

// DeleteSession abandons a session.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.sessions.Delete(s.ID)
	w.WriteHeader(http.StatusNoContent)
}

// SetField sets one scalar field value.
func (h *Handlers) SetField(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.SetField(chi.URLParam(r, "fieldKey"), body.Value); err != nil {
		WriteError(w, err)
		return
	}
	h.recordUpdate(s, "field")
	WriteJSON(w, http.StatusOK, s.Descriptor())
}

// SelectLevel applies a selection on a standalone selector chain.
func (h *Handlers) SelectLevel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	level, ok := indexParam(w, r, "level")
	if !ok {
		return
	}
	var body struct {
		ItemID string `json:"item_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.SelectAt(r.Context(), chi.URLParam(r, "selectorId"), level, body.ItemID); err != nil {
		WriteError(w, err)
		return
	}
	h.recordUpdate(s, "selection")
	WriteJSON(w, http.StatusOK, s.Descriptor())
}

// AddRow appends an empty row to a section.
func (h *Handlers) AddRow(w http.ResponseWriter, r *http.Request) {
	s, list, ok := h.sectionList(w, r)
	if !ok {
		return
	}
	if _, err := list.AddRow(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	h.recordUpdate(s, "row_add")
	WriteJSON(w, http.StatusCreated, s.Descriptor())
}

// RemoveRow deletes a row from a section.
func (h *Handlers) RemoveRow(w http.ResponseWriter, r *http.Request) {
	s, list, ok := h.sectionList(w, r)
	if !ok {
		return
	}
	index, ok := indexParam(w, r, "index")
	if !ok {
		return
	}
	if err := list.RemoveRow(index); err != nil {
		WriteError(w, err)
		return
	}
	h.recordUpdate(s, "row_remove")
	WriteJSON(w, http.StatusOK, s.Descriptor())
}

// SelectRowLevel applies a hierarchy selection on one row.
func (h *Handlers) SelectRowLevel(w http.ResponseWriter, r *http.Request) {
	s, list, ok := h.sectionList(w, r)
	if !ok {
		return
	}
	index, ok := indexParam(w, r, "index")
	if !ok {
		return
	}
	level, ok := indexParam(w, r, "level")
	if !ok {
		return
	}
	var body struct {
		ItemID string `json:"item_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := list.SelectAt(r.Context(), index, level, body.ItemID); err != nil {
		WriteError(w, err)
		return
	}
	h.recordUpdate(s, "selection")
	WriteJSON(w, http.StatusOK, s.Descriptor())
}

// SetRowField sets an extra field on one row.
func (h *Handlers) SetRowField(w http.ResponseWriter, r *http.Request) {
	s, list, ok := h.sectionList(w, r)
	if !ok {
		return
	}
	index, ok := indexParam(w, r, "index")
	if !ok {
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := list.SetField(index, chi.URLParam(r, "fieldKey"), body.Value); err != nil {
		WriteError(w, err)
		return
	}
	h.recordUpdate(s, "field")
	WriteJSON(w, http.StatusOK, s.Descriptor())
}

// Validate runs the full rule set and returns the error map.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	errs := s.Validate()
	if h.metrics != nil {
		h.metrics.RecordValidation(s.ScreenID, len(errs) == 0)
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"valid":  len(errs) == 0,
		"errors": errs,
	})
}

// Submit validates, assembles, and posts the session to the backend. The
// session is discarded on success and preserved on any failure.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.Submit(r.Context(), h.backend)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordSubmission(s.ScreenID, "rejected", time.Since(start))
		}
		observability.RequestLogger(r.Context(), h.logger).Warn("submission rejected",
			zap.String("session_id", s.ID),
			zap.String("screen_id", s.ScreenID),
			zap.Error(err),
		)
		WriteError(w, err)
		return
	}

	h.sessions.Delete(s.ID)
	if h.metrics != nil {
		h.metrics.RecordSubmission(s.ScreenID, "accepted", time.Since(start))
	}
	observability.RequestLogger(r.Context(), h.logger).Info("submission accepted",
		zap.String("session_id", s.ID),
		zap.String("screen_id", s.ScreenID),
	)
	WriteJSON(w, http.StatusOK, result)
}

// PostcodeLookup resolves a 5-digit postcode to its city and state.
func (h *Handlers) PostcodeLookup(w http.ResponseWriter, r *http.Request) {
	postcode := r.URL.Query().Get("postcode")
	result, err := h.backend.Postcode(r.Context(), postcode)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// --- helpers ---

// screenForCaller resolves the screen in the URL and enforces its role list.
func (h *Handlers) screenForCaller(w http.ResponseWriter, r *http.Request) (model.ScreenDefinition, bool) {
	screenID := chi.URLParam(r, "screenId")
	screen, ok := h.registry.GetScreen(screenID)
	if !ok {
		WriteNotFound(w, "screen "+screenID+" not found")
		return model.ScreenDefinition{}, false
	}
	rctx := model.MustRequestContext(r.Context())
	if !rctx.HasAnyRole(screen.Roles...) {
		WriteForbidden(w, "screen "+screenID+" is not available for your role")
		return model.ScreenDefinition{}, false
	}
	return screen, true
}

func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*session.FormSession, bool) {
	rctx := model.MustRequestContext(r.Context())
	s, err := h.sessions.Get(chi.URLParam(r, "sessionId"), rctx.SubjectID)
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handlers) sectionList(w http.ResponseWriter, r *http.Request) (*session.FormSession, *composer.RowList, bool) {
	s, ok := h.session(w, r)
	if !ok {
		return nil, nil, false
	}
	list, err := s.Section(chi.URLParam(r, "sectionId"))
	if err != nil {
		WriteError(w, err)
		return nil, nil, false
	}
	return s, list, true
}

func (h *Handlers) recordUpdate(s *session.FormSession, kind string) {
	if h.metrics != nil {
		h.metrics.RecordSessionUpdate(s.ScreenID, kind)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		WriteError(w, model.NewBadRequestError("request body required"))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return false
	}
	return true
}

func indexParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || n < 0 {
		WriteError(w, model.NewBadRequestError("invalid "+name))
		return 0, false
	}
	return n, true
}
