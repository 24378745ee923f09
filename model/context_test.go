package model

import (
	"context"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rc      *RequestContext
		wantErr bool
	}{
		{
			name:    "valid context",
			rc:      &RequestContext{SubjectID: "user-1"},
			wantErr: false,
		},
		{
			name:    "missing SubjectID",
			rc:      &RequestContext{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestContext_HasRole(t *testing.T) {
	rc := &RequestContext{Roles: []string{RoleProvider, RoleAdmin}}

	if !rc.HasRole(RoleProvider) {
		t.Error("HasRole(provider) = false, want true")
	}
	if rc.HasRole(RoleContractor) {
		t.Error("HasRole(contractor) = true, want false")
	}
}

func TestRequestContext_HasAnyRole(t *testing.T) {
	rc := &RequestContext{Roles: []string{RoleProvider}}

	if !rc.HasAnyRole(RoleContractor, RoleProvider) {
		t.Error("HasAnyRole(contractor, provider) = false, want true")
	}
	if rc.HasAnyRole(RoleContractor, RoleAdmin) {
		t.Error("HasAnyRole(contractor, admin) = true, want false")
	}
	if !rc.HasAnyRole() {
		t.Error("HasAnyRole() with no roles should allow")
	}
}

func TestRequestContext_Claim(t *testing.T) {
	rc := &RequestContext{Claims: map[string]any{"locale": "ms"}}

	if got := rc.Claim("locale"); got != "ms" {
		t.Errorf("Claim(locale) = %v, want ms", got)
	}
	if got := rc.Claim("missing"); got != nil {
		t.Errorf("Claim(missing) = %v, want nil", got)
	}
	empty := &RequestContext{}
	if got := empty.Claim("any"); got != nil {
		t.Errorf("Claim on nil map = %v, want nil", got)
	}
}

func TestRequestContext_round_trip(t *testing.T) {
	rc := &RequestContext{SubjectID: "user-1", CorrelationID: "corr-1"}
	ctx := WithRequestContext(context.Background(), rc)

	got := RequestContextFrom(ctx)
	if got == nil || got.SubjectID != "user-1" {
		t.Fatalf("RequestContextFrom() = %+v", got)
	}

	if RequestContextFrom(context.Background()) != nil {
		t.Error("RequestContextFrom on empty context should return nil")
	}
}

func TestMustRequestContext_panics_when_missing(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRequestContext should panic without a RequestContext")
		}
	}()
	MustRequestContext(context.Background())
}

func TestItemRef_Matches(t *testing.T) {
	item := Item{ID: "kl", Label: "Kuala Lumpur"}

	if !(ItemRef{ID: "kl"}).Matches(item) {
		t.Error("match by ID failed")
	}
	if !(ItemRef{Label: "Kuala Lumpur"}).Matches(item) {
		t.Error("match by label fallback failed")
	}
	if (ItemRef{ID: "sel", Label: "Kuala Lumpur"}).Matches(item) {
		t.Error("ID takes precedence over label; mismatched ID must not match")
	}
	if (ItemRef{}).Matches(item) {
		t.Error("zero ref must not match")
	}
}

func TestItemRef_IsZero(t *testing.T) {
	if !(ItemRef{}).IsZero() {
		t.Error("IsZero() = false for zero ref")
	}
	if (ItemRef{Label: "X"}).IsZero() {
		t.Error("IsZero() = true for ref with label")
	}
}
