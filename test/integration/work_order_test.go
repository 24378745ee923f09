package integration

import (
	"net/http"
	"testing"

	"github.com/tukangworks/tukang/model"
)

// createWorkOrderSession mounts a work_order session and returns its state.
func createWorkOrderSession(t *testing.T, h *TestHarness, token string) model.SessionDescriptor {
	t.Helper()
	var sess model.SessionDescriptor
	resp := h.POST("/ui/screens/work_order/sessions", nil, token)
	h.AssertJSON(t, resp, http.StatusCreated, &sess)
	return sess
}

// selectClassification walks the classification chain top-down with the
// given item IDs and returns the session state after the last selection.
func selectClassification(t *testing.T, h *TestHarness, token, sessionID string, itemIDs ...string) model.SessionDescriptor {
	t.Helper()
	var sess model.SessionDescriptor
	for level, itemID := range itemIDs {
		resp := h.PUT(selectorLevelPath(sessionID, "classification", level),
			map[string]string{"item_id": itemID}, token)
		h.AssertJSON(t, resp, http.StatusOK, &sess)
	}
	return sess
}

// classificationState finds the classification selector in a session snapshot.
func classificationState(t *testing.T, sess model.SessionDescriptor) model.SelectorState {
	t.Helper()
	for _, sel := range sess.Selectors {
		if sel.ID == "classification" {
			return sel
		}
	}
	t.Fatalf("session has no classification selector:\n%s", FormatJSON(sess.Selectors))
	return model.SelectorState{}
}

func TestWorkOrder_CreateSeedsRootCategories(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(CustomerClaims())

	sess := createWorkOrderSession(t, h, token)

	sel := classificationState(t, sess)
	if len(sel.Levels) != 4 {
		t.Fatalf("selector levels = %d, want 4", len(sel.Levels))
	}
	if got := len(sel.Levels[0].Children); got != 2 {
		t.Errorf("category children = %d, want 2", got)
	}
	for i := 1; i < 4; i++ {
		if len(sel.Levels[i].Children) != 0 {
			t.Errorf("level %d has children before its parent is selected", i)
		}
	}
	h.MockBackend("catalog").AssertCalled(t, "listCategories", 1)
}

func TestWorkOrder_ChainDrivesAllFourLevels(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(CustomerClaims())

	sess := createWorkOrderSession(t, h, token)
	sess = selectClassification(t, h, token, sess.ID, "electrical")

	sel := classificationState(t, sess)
	if got := len(sel.Levels[1].Children); got != 2 {
		t.Fatalf("item children = %d, want 2:\n%s", got, FormatJSON(sel.Levels[1]))
	}
	req := h.MockBackend("catalog").LastRequest("listItems")
	if req == nil || req.Path != "/v1/categories/electrical/items" {
		t.Fatalf("item fetch path = %v, want /v1/categories/electrical/items", req)
	}

	sess = selectClassification(t, h, token, sess.ID, "electrical", "switch")
	req = h.MockBackend("catalog").LastRequest("listTypes")
	if req == nil {
		t.Fatal("no type fetch recorded")
	}
	if req.QueryParams["category"] != "electrical" || req.QueryParams["item"] != "switch" {
		t.Errorf("type fetch query = %v, want category=electrical item=switch", req.QueryParams)
	}

	sess = selectClassification(t, h, token, sess.ID, "electrical", "switch", "repair", "not-working")
	sel = classificationState(t, sess)
	for i, want := range []string{"electrical", "switch", "repair", "not-working"} {
		if sel.Levels[i].Selection == nil || sel.Levels[i].Selection.ID != want {
			t.Errorf("level %d selection = %v, want %q", i, sel.Levels[i].Selection, want)
		}
	}
	req = h.MockBackend("catalog").LastRequest("listDescriptions")
	if req == nil || req.QueryParams["type"] != "repair" {
		t.Errorf("description fetch query = %v, want type=repair", req)
	}
}

func TestWorkOrder_ReselectingCategoryClearsDescendants(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(CustomerClaims())

	sess := createWorkOrderSession(t, h, token)
	selectClassification(t, h, token, sess.ID, "electrical", "switch", "repair", "not-working")

	after := selectClassification(t, h, token, sess.ID, "plumbing")
	sel := classificationState(t, after)
	if sel.Levels[0].Selection == nil || sel.Levels[0].Selection.ID != "plumbing" {
		t.Fatalf("category = %v, want plumbing", sel.Levels[0].Selection)
	}
	for i := 1; i < 4; i++ {
		if sel.Levels[i].Selection != nil {
			t.Errorf("level %d selection survived a category change: %v", i, sel.Levels[i].Selection)
		}
	}
	if got := len(sel.Levels[1].Children); got != 1 {
		t.Errorf("item children after reselect = %d, want 1 (plumbing has one item)", got)
	}
	for i := 2; i < 4; i++ {
		if len(sel.Levels[i].Children) != 0 {
			t.Errorf("level %d kept stale children after a category change", i)
		}
	}
}

func TestWorkOrder_RequiredClassificationBlocksSubmit(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(CustomerClaims())

	sess := createWorkOrderSession(t, h, token)

	var verdict struct {
		Valid  bool              `json:"valid"`
		Errors map[string]string `json:"errors"`
	}
	resp := h.POST(sessionPath(sess.ID, "validate"), nil, token)
	h.AssertJSON(t, resp, http.StatusOK, &verdict)
	if verdict.Valid {
		t.Fatal("empty classification reported valid")
	}
	if verdict.Errors["classification.category"] == "" {
		t.Errorf("errors = %s, want classification.category entry", FormatJSON(verdict.Errors))
	}

	resp = h.POST(sessionPath(sess.ID, "submit"), nil, token)
	h.AssertError(t, resp, http.StatusUnprocessableEntity, model.ErrValidationError)
	h.MockBackend("providers").AssertNotCalled(t, "createWorkOrder")
}

func TestWorkOrder_SubmitAssemblesClassification(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(CustomerClaims())

	sess := createWorkOrderSession(t, h, token)
	selectClassification(t, h, token, sess.ID, "electrical", "switch", "repair", "not-working")

	resp := h.PUT(sessionPath(sess.ID, "fields", "details"),
		map[string]string{"value": "Sparks when toggled"}, token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	var result model.SubmitResult
	resp = h.POST(sessionPath(sess.ID, "submit"), nil, token)
	h.AssertJSON(t, resp, http.StatusOK, &result)
	if result.Status != "submitted" {
		t.Errorf("status = %q, want submitted", result.Status)
	}

	req := h.MockBackend("providers").LastRequest("createWorkOrder")
	if req == nil {
		t.Fatal("backend received no work order")
	}
	want := map[string]any{
		"category":       "Electrical",
		"category_id":    "electrical",
		"item":           "Switch",
		"item_id":        "switch",
		"type":           "Repair",
		"type_id":        "repair",
		"description":    "Not working",
		"description_id": "not-working",
		"details":        "Sparks when toggled",
	}
	for key, value := range want {
		if req.Body[key] != value {
			t.Errorf("payload %s = %v, want %v", key, req.Body[key], value)
		}
	}
}

func TestWorkOrder_HiddenFromProviderRole(t *testing.T) {
	h := NewTestHarness(t)
	provider := h.GenerateToken(ProviderClaims())

	resp := h.POST("/ui/screens/work_order/sessions", nil, provider)
	h.AssertError(t, resp, http.StatusForbidden, model.ErrForbidden)
}
