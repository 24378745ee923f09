package model

// ScreenDescriptor is a resolved screen sent to the frontend when listing
// available screens. The full interactive state lives in SessionDescriptor.
type ScreenDescriptor struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Fields   []FieldDefinition      `json:"fields,omitempty"`
	Selectors []SelectorDefinition  `json:"selectors,omitempty"`
	Sections []RowSectionDefinition `json:"sections,omitempty"`
}

// SessionDescriptor is the full state of a mounted form session: scalar
// values, every chain's per-level state, row contents, and the current
// validation error map. The frontend renders this verbatim.
type SessionDescriptor struct {
	ID        string             `json:"id"`
	ScreenID  string             `json:"screen_id"`
	Title     string             `json:"title"`
	Values    map[string]string  `json:"values"`
	Selectors []SelectorState    `json:"selectors,omitempty"`
	Sections  []RowSectionState  `json:"sections,omitempty"`
	Errors    map[string]string  `json:"errors,omitempty"`
}

// SelectorState is the state of one standalone chain.
type SelectorState struct {
	ID     string       `json:"id"`
	Levels []LevelState `json:"levels"`
}

// LevelState is the observable state of one hierarchy level: the current
// selection, the list the selection was (or will be) picked from, and the
// loading/error flags consumers use to disable the control.
type LevelState struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Selection *Item  `json:"selection,omitempty"`
	Children  []Item `json:"children"`
	Loading   bool   `json:"loading"`
	Error     string `json:"error,omitempty"`
}

// RowSectionState is the state of one repeatable row section.
type RowSectionState struct {
	ID   string     `json:"id"`
	Rows []RowState `json:"rows"`
}

// RowState is the state of a single composed row.
type RowState struct {
	Levels   []LevelState      `json:"levels"`
	Fields   map[string]string `json:"fields"`
	Complete bool              `json:"complete"`
}

// SubmitResult reports the outcome of a successful submission.
type SubmitResult struct {
	Status  string         `json:"status"`
	Backend map[string]any `json:"backend,omitempty"`
}

// PostcodeResult is the response of the postcode reverse lookup.
type PostcodeResult struct {
	City  string `json:"city"`
	State string `json:"state"`
}
