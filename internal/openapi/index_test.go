package openapi

import (
	"testing"
)

func loadTestIndex(t *testing.T) *Index {
	t.Helper()
	idx := NewIndex()
	err := idx.Load([]SpecSource{
		{ServiceID: "catalog", SpecPath: "testdata/catalog-svc.yaml"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func TestIndex_Load(t *testing.T) {
	idx := loadTestIndex(t)
	if got := idx.PathCount("catalog"); got != 4 {
		t.Fatalf("PathCount(catalog) = %d, want 4", got)
	}
}

func TestIndex_Load_missing_file(t *testing.T) {
	idx := NewIndex()
	err := idx.Load([]SpecSource{
		{ServiceID: "catalog", SpecPath: "testdata/nonexistent.yaml"},
	})
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestIndex_HasService(t *testing.T) {
	idx := loadTestIndex(t)
	if !idx.HasService("catalog") {
		t.Error("HasService(catalog) = false, want true")
	}
	if idx.HasService("providers") {
		t.Error("HasService(providers) = true, want false")
	}
}

func TestIndex_HasPath(t *testing.T) {
	idx := loadTestIndex(t)

	if !idx.HasPath("catalog", "GET", "/v1/regions") {
		t.Error("HasPath(/v1/regions) = false, want true")
	}
	if idx.HasPath("catalog", "POST", "/v1/regions") {
		t.Error("HasPath(POST /v1/regions) = true, want false")
	}
	if idx.HasPath("catalog", "GET", "/v1/unknown") {
		t.Error("HasPath(/v1/unknown) = true, want false")
	}
	if idx.HasPath("unknown", "GET", "/v1/regions") {
		t.Error("HasPath with unknown service = true, want false")
	}
}

func TestIndex_HasPath_template_params_match_any_name(t *testing.T) {
	idx := loadTestIndex(t)

	// Spec declares {regionId}; definitions use their own placeholder names.
	if !idx.HasPath("catalog", "GET", "/v1/regions/{region}/states") {
		t.Error("templated path with different param name should match")
	}
	if !idx.HasPath("catalog", "GET", "/v1/regions/central/states") {
		t.Error("concrete path should match templated spec path")
	}
	if idx.HasPath("catalog", "GET", "/v1/regions/central/states/extra") {
		t.Error("path with extra segment should not match")
	}
}

func TestIndex_PathCount_unknown_service(t *testing.T) {
	idx := loadTestIndex(t)
	if got := idx.PathCount("unknown"); got != 0 {
		t.Errorf("PathCount(unknown) = %d, want 0", got)
	}
}
