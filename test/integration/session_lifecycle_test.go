package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/tukangworks/tukang/model"
)

// createProfileSession mounts a provider_profile session and returns its state.
func createProfileSession(t *testing.T, h *TestHarness, token string) model.SessionDescriptor {
	t.Helper()
	var sess model.SessionDescriptor
	resp := h.POST("/ui/screens/provider_profile/sessions", nil, token)
	h.AssertJSON(t, resp, http.StatusCreated, &sess)
	return sess
}

// selectRowLevels walks a row's hierarchy top-down with the given item IDs.
func selectRowLevels(t *testing.T, h *TestHarness, token, sessionID string, row int, itemIDs ...string) model.SessionDescriptor {
	t.Helper()
	var sess model.SessionDescriptor
	for level, itemID := range itemIDs {
		resp := h.PUT(rowLevelPath(sessionID, "services", row, level),
			map[string]string{"item_id": itemID}, token)
		h.AssertJSON(t, resp, http.StatusOK, &sess)
	}
	return sess
}

// fillProfileFields sets the scalar fields a valid profile needs.
func fillProfileFields(t *testing.T, h *TestHarness, token, sessionID string) {
	t.Helper()
	for key, value := range map[string]string{
		"name":     "Ahmad Fauzi",
		"contact":  "0123456789",
		"postcode": "50450",
	} {
		resp := h.PUT(sessionPath(sessionID, "fields", key), map[string]string{"value": value}, token)
		h.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
}

func TestSession_CreateSeedsRequiredSection(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	sess := createProfileSession(t, h, token)

	if sess.ID == "" {
		t.Fatal("session id missing")
	}
	if sess.ScreenID != "provider_profile" {
		t.Errorf("screen_id = %q, want provider_profile", sess.ScreenID)
	}
	if len(sess.Sections) != 1 || sess.Sections[0].ID != "services" {
		t.Fatalf("sections = %s, want the services section", FormatJSON(sess.Sections))
	}
	row := sess.Sections[0].Rows[0]
	if len(row.Levels) != 3 {
		t.Fatalf("row levels = %d, want 3", len(row.Levels))
	}
	if row.Complete {
		t.Error("seeded row reported complete before any selection")
	}
}

func TestSession_FullLifecycle(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	sess := createProfileSession(t, h, token)
	fillProfileFields(t, h, token, sess.ID)
	selectRowLevels(t, h, token, sess.ID, 0, "central", "kl", "plumbing")

	resp := h.PUT(sessionPath(sess.ID, "rows", "services", "0", "fields", "price"),
		map[string]string{"value": "150"}, token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	var verdict struct {
		Valid  bool              `json:"valid"`
		Errors map[string]string `json:"errors"`
	}
	resp = h.POST(sessionPath(sess.ID, "validate"), nil, token)
	h.AssertJSON(t, resp, http.StatusOK, &verdict)
	if !verdict.Valid {
		t.Fatalf("validation failed: %s", FormatJSON(verdict.Errors))
	}

	var result model.SubmitResult
	resp = h.POST(sessionPath(sess.ID, "submit"), nil, token)
	h.AssertJSON(t, resp, http.StatusOK, &result)
	if result.Status != "submitted" {
		t.Errorf("status = %q, want submitted", result.Status)
	}

	// The backend received the assembled payload: labels under level keys,
	// IDs under "<key>_id".
	req := h.MockBackend("providers").LastRequest("createProvider")
	if req == nil {
		t.Fatal("backend received no submission")
	}
	if req.Body["name"] != "Ahmad Fauzi" {
		t.Errorf("payload name = %v", req.Body["name"])
	}
	rows, ok := req.Body["services"].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("payload services = %s, want one row", FormatJSON(req.Body["services"]))
	}
	row := rows[0].(map[string]any)
	if row["region"] != "Central" || row["region_id"] != "central" {
		t.Errorf("row region = %v / %v", row["region"], row["region_id"])
	}
	if row["service"] != "Plumbing" {
		t.Errorf("row service = %v", row["service"])
	}
	if row["price"] != 150.0 {
		t.Errorf("row price = %v, want 150", row["price"])
	}

	// A successful submission disposes of the session.
	resp = h.GET(sessionPath(sess.ID), token)
	h.AssertError(t, resp, http.StatusNotFound, model.ErrSessionNotFound)
}

func TestSession_SubmitInvalidStateReturns422(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	sess := createProfileSession(t, h, token)

	resp := h.POST(sessionPath(sess.ID, "submit"), nil, token)
	envelope := h.AssertError(t, resp, http.StatusUnprocessableEntity, model.ErrValidationError)
	if len(envelope.Details) == 0 {
		t.Error("validation error carries no field details")
	}
	h.MockBackend("providers").AssertNotCalled(t, "createProvider")

	// The session survives a validation failure.
	resp = h.GET(sessionPath(sess.ID), token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestSession_BackendRejectionPreservesSession(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	sess := createProfileSession(t, h, token)
	fillProfileFields(t, h, token, sess.ID)
	selectRowLevels(t, h, token, sess.ID, 0, "central", "kl", "plumbing")
	resp := h.PUT(sessionPath(sess.ID, "rows", "services", "0", "fields", "price"),
		map[string]string{"value": "150"}, token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	h.MockBackend("providers").OnOperation("createProvider").
		RespondWithError(422, "registration closed")

	resp = h.POST(sessionPath(sess.ID, "submit"), nil, token)
	envelope := h.AssertError(t, resp, http.StatusBadGateway, model.ErrSubmissionError)
	if envelope.Message == "" {
		t.Error("backend rejection message not surfaced")
	}

	// The user can correct and resubmit: the session is intact.
	resp = h.GET(sessionPath(sess.ID), token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestSession_ValidateReportsErrorMap(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	sess := createProfileSession(t, h, token)

	var verdict struct {
		Valid  bool              `json:"valid"`
		Errors map[string]string `json:"errors"`
	}
	resp := h.POST(sessionPath(sess.ID, "validate"), nil, token)
	h.AssertJSON(t, resp, http.StatusOK, &verdict)

	if verdict.Valid {
		t.Fatal("empty session reported valid")
	}
	for _, key := range []string{"name", "contact", "postcode", "services.0.region"} {
		if _, ok := verdict.Errors[key]; !ok {
			t.Errorf("error map missing %q:\n%s", key, FormatJSON(verdict.Errors))
		}
	}
}

func TestSession_DeleteAbandons(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	sess := createProfileSession(t, h, token)

	resp := h.DELETE(sessionPath(sess.ID), token)
	h.AssertStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = h.GET(sessionPath(sess.ID), token)
	h.AssertError(t, resp, http.StatusNotFound, model.ErrSessionNotFound)
}

func TestSession_NotVisibleToOtherSubject(t *testing.T) {
	h := NewTestHarness(t)
	provider := h.GenerateToken(ProviderClaims())
	admin := h.GenerateToken(AdminClaims())

	sess := createProfileSession(t, h, provider)

	resp := h.GET(sessionPath(sess.ID), admin)
	h.AssertError(t, resp, http.StatusNotFound, model.ErrSessionNotFound)
}

func TestSession_PerSubjectCapEvictsOldest(t *testing.T) {
	h := NewTestHarness(t, WithSessionLimits(time.Minute, 2))
	token := h.GenerateToken(ProviderClaims())

	first := createProfileSession(t, h, token)
	second := createProfileSession(t, h, token)
	third := createProfileSession(t, h, token)

	resp := h.GET(sessionPath(first.ID), token)
	h.AssertError(t, resp, http.StatusNotFound, model.ErrSessionNotFound)

	for _, id := range []string{second.ID, third.ID} {
		resp = h.GET(sessionPath(id), token)
		h.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
}

func TestSession_LoadHydratesFromBackendRecord(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	var sess model.SessionDescriptor
	resp := h.POST("/ui/screens/provider_profile/sessions?load=true", nil, token)
	h.AssertJSON(t, resp, http.StatusCreated, &sess)

	if sess.Values["name"] != "Siti Aminah" {
		t.Errorf("hydrated name = %q", sess.Values["name"])
	}
	if sess.Values["postcode"] != "50450" {
		t.Errorf("hydrated postcode = %q", sess.Values["postcode"])
	}

	rows := sess.Sections[0].Rows
	if len(rows) != 1 {
		t.Fatalf("hydrated rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if !row.Complete {
		t.Errorf("hydrated row not complete:\n%s", FormatJSON(row))
	}
	if row.Levels[1].Selection == nil || row.Levels[1].Selection.ID != "kl" {
		t.Errorf("hydrated state selection = %s", FormatJSON(row.Levels[1].Selection))
	}
	if row.Fields["price"] != "120" {
		t.Errorf("hydrated price = %q, want 120", row.Fields["price"])
	}
}
