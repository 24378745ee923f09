package assemble

import (
	"reflect"
	"testing"

	"github.com/tukangworks/tukang/internal/composer"
	"github.com/tukangworks/tukang/model"
)

var screen = model.ScreenDefinition{
	ID: "provider_profile",
	Fields: []model.FieldDefinition{
		{Key: "name"},
		{Key: "contact"},
		{Key: "postcode"},
	},
	Sections: []model.RowSectionDefinition{{
		ID: "services",
		Levels: []model.LevelDefinition{
			{Key: "region", Endpoint: "regions"},
			{Key: "state", Endpoint: "states"},
			{Key: "service", Endpoint: "service_types"},
		},
		Fields: []model.RowFieldDefinition{
			{Key: "price", Type: "number"},
		},
	}},
}

func TestAssemblePayload(t *testing.T) {
	values := map[string]string{"name": "Aminah", "contact": "0123456789", "postcode": "50450"}
	rows := map[string][]composer.CompletedRow{
		"services": {{
			Levels: []model.Item{
				{ID: "central", Label: "Central"},
				{ID: "kl", Label: "Kuala Lumpur"},
				{ID: "plumbing", Label: "Plumbing"},
			},
			Fields: map[string]string{"price": "120.50"},
		}},
	}

	payload := Assemble(screen, values, nil, rows)
	if payload["name"] != "Aminah" || payload["postcode"] != "50450" {
		t.Fatalf("scalar fields missing: %v", payload)
	}

	entries, ok := payload["services"].([]map[string]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("services = %v", payload["services"])
	}
	want := map[string]any{
		"region": "Central", "region_id": "central",
		"state": "Kuala Lumpur", "state_id": "kl",
		"service": "Plumbing", "service_id": "plumbing",
		"price": 120.50,
	}
	if !reflect.DeepEqual(entries[0], want) {
		t.Fatalf("row entry = %v, want %v", entries[0], want)
	}
}

func TestAssembleEmptySectionYieldsEmptyArray(t *testing.T) {
	payload := Assemble(screen, map[string]string{"name": "A"}, nil, nil)
	entries, ok := payload["services"].([]map[string]any)
	if !ok || len(entries) != 0 {
		t.Fatalf("services = %v, want empty array", payload["services"])
	}
}

func TestAssembleSelectorLevels(t *testing.T) {
	s := model.ScreenDefinition{
		ID: "work_order",
		Selectors: []model.SelectorDefinition{{
			ID: "classification",
			Levels: []model.LevelDefinition{
				{Key: "category", Endpoint: "categories"},
				{Key: "item", Endpoint: "items"},
			},
		}},
	}
	selectors := map[string][]*model.Item{
		"classification": {
			{ID: "elec", Label: "Electrical"},
			{ID: "socket", Label: "Socket"},
		},
	}
	payload := Assemble(s, nil, selectors, nil)
	if payload["category"] != "Electrical" || payload["category_id"] != "elec" {
		t.Fatalf("category = %v / %v", payload["category"], payload["category_id"])
	}
	if payload["item"] != "Socket" || payload["item_id"] != "socket" {
		t.Fatalf("item = %v / %v", payload["item"], payload["item_id"])
	}
}

func TestParseRecordRoundTrip(t *testing.T) {
	record := map[string]any{
		"name":     "Aminah",
		"contact":  "0123456789",
		"postcode": float64(50450), // backends sometimes store numbers
		"services": []any{
			map[string]any{
				"region": "Central", "region_id": "central",
				"state": "Kuala Lumpur", "state_id": "kl",
				"service": "Plumbing", "service_id": "plumbing",
				"price": 120.5,
			},
		},
		"unrelated": true,
	}

	rec := ParseRecord(screen, record)
	if rec.Values["name"] != "Aminah" || rec.Values["postcode"] != "50450" {
		t.Fatalf("values = %v", rec.Values)
	}
	rows := rec.Sections["services"]
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	wantRefs := []model.ItemRef{
		{ID: "central", Label: "Central"},
		{ID: "kl", Label: "Kuala Lumpur"},
		{ID: "plumbing", Label: "Plumbing"},
	}
	if !reflect.DeepEqual(rows[0].Refs, wantRefs) {
		t.Fatalf("refs = %v", rows[0].Refs)
	}
	if rows[0].Fields["price"] != "120.5" {
		t.Fatalf("price = %q", rows[0].Fields["price"])
	}
}

func TestParseRecordLabelOnlyFallback(t *testing.T) {
	record := map[string]any{
		"services": []any{
			map[string]any{"region": "Central", "state": "Kuala Lumpur", "service": "Plumbing", "price": "99"},
		},
	}
	rec := ParseRecord(screen, record)
	refs := rec.Sections["services"][0].Refs
	if refs[0].ID != "" || refs[0].Label != "Central" {
		t.Fatalf("refs[0] = %+v, want label-only", refs[0])
	}
}
