package integration

import (
	"net/http"
	"testing"

	"github.com/tukangworks/tukang/model"
)

func TestHarness_HealthIsPublic(t *testing.T) {
	h := NewTestHarness(t)

	var body map[string]any
	resp := h.GET("/ui/health", "")
	h.AssertJSON(t, resp, http.StatusOK, &body)

	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestHarness_ReadyAfterFirstAuthenticatedRequest(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	// The JWKS cache fills on first token verification; readiness reports
	// not_ready until then.
	resp := h.GET("/ui/screens", token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	var body map[string]any
	resp = h.GET("/ui/ready", "")
	h.AssertJSON(t, resp, http.StatusOK, &body)

	if body["status"] != "ready" {
		t.Errorf("status = %v, want ready\n%s", body["status"], FormatJSON(body))
	}
}

func TestHarness_MetricsIsPublic(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/metrics", "")
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestHarness_MockBackendServesDefaultFixtures(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	var sess model.SessionDescriptor
	resp := h.POST("/ui/screens/provider_profile/sessions", nil, token)
	h.AssertJSON(t, resp, http.StatusCreated, &sess)

	if len(sess.Sections) != 1 || len(sess.Sections[0].Rows) != 1 {
		t.Fatalf("expected one seeded row, got\n%s", FormatJSON(sess))
	}
	if got := len(sess.Sections[0].Rows[0].Levels[0].Children); got != 2 {
		t.Errorf("root level children = %d, want 2", got)
	}
	h.MockBackend("catalog").AssertCalled(t, "listRegions", 1)
}

func TestHarness_ConfiguredResponseOverridesFixture(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ProviderClaims())

	h.MockBackend("catalog").OnOperation("listRegions").
		RespondWith(200, []map[string]any{{"id": "south", "name": "South"}})

	var sess model.SessionDescriptor
	resp := h.POST("/ui/screens/provider_profile/sessions", nil, token)
	h.AssertJSON(t, resp, http.StatusCreated, &sess)

	children := sess.Sections[0].Rows[0].Levels[0].Children
	if len(children) != 1 || children[0].ID != "south" {
		t.Errorf("children = %s, want the configured single region", FormatJSON(children))
	}
}
