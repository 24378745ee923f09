package model

// DomainDefinition is the root structure of a definition file. Each file
// declares one domain's catalog endpoints and form screens.
type DomainDefinition struct {
	Domain    string               `yaml:"domain"    json:"domain"`
	Version   string               `yaml:"version"   json:"version"`
	Endpoints []EndpointDefinition `yaml:"endpoints" json:"endpoints,omitempty"`
	Screens   []ScreenDefinition   `yaml:"screens"   json:"screens,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// EndpointDefinition describes one read-only catalog enumeration endpoint.
// Path placeholders and query values name hierarchy level keys; they are
// filled from the ancestor selections when a child list is requested.
type EndpointDefinition struct {
	ID        string            `yaml:"id"         json:"id"`
	ServiceID string            `yaml:"service_id" json:"service_id"`
	Path      string            `yaml:"path"       json:"path"`
	Query     map[string]string `yaml:"query"      json:"query,omitempty"`
	IDField   string            `yaml:"id_field"   json:"id_field"`
	LabelField string           `yaml:"label_field" json:"label_field"`
	ItemsPath string            `yaml:"items_path" json:"items_path,omitempty"`
}

// ScreenDefinition describes one form screen: its scalar fields, standalone
// hierarchy selectors, repeatable row sections, and the backend endpoints
// used to load an existing record and to submit the composed payload.
type ScreenDefinition struct {
	ID       string                 `yaml:"id"       json:"id"`
	Title    string                 `yaml:"title"    json:"title"`
	Roles    []string               `yaml:"roles"    json:"roles,omitempty"`
	Submit   OperationDefinition    `yaml:"submit"   json:"submit"`
	Load     *OperationDefinition   `yaml:"load"     json:"load,omitempty"`
	Fields   []FieldDefinition      `yaml:"fields"   json:"fields,omitempty"`
	Selectors []SelectorDefinition  `yaml:"selectors" json:"selectors,omitempty"`
	Sections []RowSectionDefinition `yaml:"sections" json:"sections,omitempty"`
}

// OperationDefinition binds a screen operation to a backend service endpoint.
type OperationDefinition struct {
	ServiceID string `yaml:"service_id" json:"service_id"`
	Method    string `yaml:"method"     json:"method"`
	Path      string `yaml:"path"       json:"path"`
}

// FieldDefinition describes one scalar field and its validation rules.
// A non-required field with a pattern is validated only when non-empty.
type FieldDefinition struct {
	Key       string           `yaml:"key"        json:"key"`
	Label     string           `yaml:"label"      json:"label"`
	Type      string           `yaml:"type"       json:"type"` // text, number, select
	Required  bool             `yaml:"required"   json:"required,omitempty"`
	Format    string           `yaml:"format"     json:"format,omitempty"` // named format, see rules package
	Pattern   string           `yaml:"pattern"    json:"pattern,omitempty"`
	MinLength *int             `yaml:"min_length" json:"min_length,omitempty"`
	MaxLength *int             `yaml:"max_length" json:"max_length,omitempty"`
	Min       *float64         `yaml:"min"        json:"min,omitempty"`
	Max       *float64         `yaml:"max"        json:"max,omitempty"`
	NotEqual  string           `yaml:"not_equal"  json:"not_equal,omitempty"` // other field key
	Equal     string           `yaml:"equal"      json:"equal,omitempty"`     // other field key
	Variants  []PatternVariant `yaml:"variants"   json:"variants,omitempty"`
	Options   []Item           `yaml:"options"    json:"options,omitempty"` // inline options for select
	Lookup    string           `yaml:"lookup"     json:"lookup,omitempty"`  // "postcode"
	Message   string           `yaml:"message"    json:"message,omitempty"`
}

// PatternVariant selects a pattern based on another field's current value.
// Used for identity numbers whose format depends on the chosen ID type.
type PatternVariant struct {
	WhenField string `yaml:"when_field" json:"when_field"`
	Equals    string `yaml:"equals"     json:"equals"`
	Pattern   string `yaml:"pattern"    json:"pattern"`
	Message   string `yaml:"message"    json:"message,omitempty"`
}

// SelectorDefinition describes a standalone dependent-selector chain on a
// screen (e.g. the work-order classification chain).
type SelectorDefinition struct {
	ID       string            `yaml:"id"       json:"id"`
	Required bool              `yaml:"required" json:"required,omitempty"`
	Levels   []LevelDefinition `yaml:"levels"   json:"levels"`
}

// LevelDefinition describes one level of a dependency chain. Endpoint names
// an EndpointDefinition that lists this level's items given the ancestor
// selections.
type LevelDefinition struct {
	Key      string `yaml:"key"      json:"key"`
	Label    string `yaml:"label"    json:"label"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// RowSectionDefinition describes a repeatable row section. Every row carries
// one selection per level plus the extra fields; completed rows must be
// unique on their level selections.
type RowSectionDefinition struct {
	ID       string               `yaml:"id"       json:"id"`
	Title    string               `yaml:"title"    json:"title"`
	Required bool                 `yaml:"required" json:"required,omitempty"` // at least one row
	MaxRows  int                  `yaml:"max_rows" json:"max_rows,omitempty"`
	Levels   []LevelDefinition    `yaml:"levels"   json:"levels"`
	Fields   []RowFieldDefinition `yaml:"fields"   json:"fields"`
}

// RowFieldDefinition describes an extra (non-hierarchy) field on each row.
type RowFieldDefinition struct {
	Key     string   `yaml:"key"     json:"key"`
	Label   string   `yaml:"label"   json:"label"`
	Type    string   `yaml:"type"    json:"type"` // text, number
	Min     *float64 `yaml:"min"     json:"min,omitempty"`
	Message string   `yaml:"message" json:"message,omitempty"`
}
