package integration

import (
	"net/http"
	"testing"

	"github.com/tukangworks/tukang/model"
)

func TestScreens_ListFiltersByRole(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	var body struct {
		Screens []model.ScreenDescriptor `json:"screens"`
	}
	resp := h.GET("/ui/screens", token)
	h.AssertJSON(t, resp, http.StatusOK, &body)

	if len(body.Screens) != 1 {
		t.Fatalf("screens = %d, want 1 (admin screen hidden):\n%s", len(body.Screens), FormatJSON(body.Screens))
	}
	if body.Screens[0].ID != "provider_profile" {
		t.Errorf("screen = %q, want provider_profile", body.Screens[0].ID)
	}
}

func TestScreens_GetReturnsFullDefinition(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	var screen model.ScreenDescriptor
	resp := h.GET("/ui/screens/provider_profile", token)
	h.AssertJSON(t, resp, http.StatusOK, &screen)

	if screen.Title != "Provider Profile" {
		t.Errorf("title = %q", screen.Title)
	}
	if len(screen.Fields) != 3 {
		t.Errorf("fields = %d, want 3", len(screen.Fields))
	}
	if len(screen.Sections) != 1 || len(screen.Sections[0].Levels) != 3 {
		t.Fatalf("sections = %s, want one three-level section", FormatJSON(screen.Sections))
	}
}

func TestScreens_UnknownScreenReturns404(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	resp := h.GET("/ui/screens/phantom", token)
	h.AssertError(t, resp, http.StatusNotFound, model.ErrNotFound)
}

func TestScreens_UnknownSessionReturns404(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	resp := h.GET("/ui/sessions/does-not-exist", token)
	h.AssertError(t, resp, http.StatusNotFound, model.ErrSessionNotFound)
}

func TestScreens_SetFieldRequiresBody(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	sess := createProfileSession(t, h, token)

	resp := h.PUT(sessionPath(sess.ID, "fields", "name"), nil, token)
	h.AssertError(t, resp, http.StatusBadRequest, model.ErrBadRequest)
}

func TestScreens_UnknownFieldRejected(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	sess := createProfileSession(t, h, token)

	resp := h.PUT(sessionPath(sess.ID, "fields", "shoe_size"),
		map[string]string{"value": "42"}, token)
	h.AssertError(t, resp, http.StatusBadRequest, model.ErrBadRequest)
}
