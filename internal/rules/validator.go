package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/tukangworks/tukang/model"
)

// Validator validates a screen's current values against its definition.
// Pattern regexes are compiled once and cached; a single Validator is shared
// across sessions.
type Validator struct {
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewValidator creates a validator. Definition patterns are compiled lazily;
// patterns that fail to compile (the definition validator rejects them at
// load time) simply never match.
func NewValidator() *Validator {
	return &Validator{patterns: make(map[string]*regexp.Regexp)}
}

// Validate checks every scalar field and row section of the screen and
// returns a flat error map: bare field keys for scalars, "section.index.key"
// for row entries, and the bare section ID when a required section has no
// complete rows. An empty map means the screen is valid. Validate has no
// side effects and returns the same result for the same input.
func (v *Validator) Validate(screen model.ScreenDefinition, values map[string]string, selectors []model.SelectorState, sections []model.RowSectionState) map[string]string {
	errs := make(map[string]string)

	for _, f := range screen.Fields {
		if msg := v.validateField(f, values); msg != "" {
			errs[f.Key] = msg
		}
	}
	for _, sel := range screen.Selectors {
		if !sel.Required {
			continue
		}
		state := selectorState(selectors, sel.ID)
		for i, lvl := range sel.Levels {
			if state == nil || i >= len(state.Levels) || state.Levels[i].Selection == nil {
				errs[sel.ID+"."+lvl.Key] = fmt.Sprintf("%s is required", orDefault(lvl.Label, lvl.Key))
				break
			}
		}
	}
	for _, sec := range screen.Sections {
		v.validateSection(sec, sectionState(sections, sec.ID), errs)
	}
	return errs
}

func (v *Validator) validateField(f model.FieldDefinition, values map[string]string) string {
	value := strings.TrimSpace(values[f.Key])

	if value == "" {
		if f.Required {
			return orDefault(f.Message, fmt.Sprintf("%s is required", labelOf(f)))
		}
		// Optional fields are validated only when present.
		return ""
	}

	if f.Format != "" {
		if fm, ok := formats[f.Format]; ok && !fm.re.MatchString(value) {
			return orDefault(f.Message, fm.message)
		}
	}
	if f.Pattern != "" {
		if re := v.compiled(f.Pattern); re != nil && !re.MatchString(value) {
			return orDefault(f.Message, fmt.Sprintf("%s has an invalid format", labelOf(f)))
		}
	}
	for _, variant := range f.Variants {
		if values[variant.WhenField] != variant.Equals {
			continue
		}
		if re := v.compiled(variant.Pattern); re != nil && !re.MatchString(value) {
			return orDefault(variant.Message, fmt.Sprintf("%s has an invalid format", labelOf(f)))
		}
		break
	}

	if f.MinLength != nil && len(value) < *f.MinLength {
		return orDefault(f.Message, fmt.Sprintf("%s must be at least %d characters", labelOf(f), *f.MinLength))
	}
	if f.MaxLength != nil && len(value) > *f.MaxLength {
		return orDefault(f.Message, fmt.Sprintf("%s must be at most %d characters", labelOf(f), *f.MaxLength))
	}

	if f.Type == "number" {
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return orDefault(f.Message, fmt.Sprintf("%s must be a number", labelOf(f)))
		}
		if f.Min != nil && n < *f.Min {
			return orDefault(f.Message, fmt.Sprintf("%s must be at least %v", labelOf(f), *f.Min))
		}
		if f.Max != nil && n > *f.Max {
			return orDefault(f.Message, fmt.Sprintf("%s must be at most %v", labelOf(f), *f.Max))
		}
	}

	if f.NotEqual != "" && value == strings.TrimSpace(values[f.NotEqual]) {
		return orDefault(f.Message, fmt.Sprintf("%s must differ from %s", labelOf(f), f.NotEqual))
	}
	if f.Equal != "" && value != strings.TrimSpace(values[f.Equal]) {
		return orDefault(f.Message, fmt.Sprintf("%s must match %s", labelOf(f), f.Equal))
	}
	return ""
}

func (v *Validator) validateSection(sec model.RowSectionDefinition, state *model.RowSectionState, errs map[string]string) {
	if state == nil || len(state.Rows) == 0 {
		if sec.Required {
			errs[sec.ID] = "At least one entry is required"
		}
		return
	}

	complete := 0
	for i, r := range state.Rows {
		for j, lvl := range r.Levels {
			if lvl.Selection == nil {
				errs[rowKey(sec.ID, i, sec.Levels[j].Key)] = fmt.Sprintf("%s is required", levelLabel(sec, j))
				break
			}
		}
		for _, f := range sec.Fields {
			if msg := rowFieldError(f, r.Fields[f.Key]); msg != "" {
				errs[rowKey(sec.ID, i, f.Key)] = msg
			}
		}
		if r.Complete {
			complete++
		}
	}
	if sec.Required && complete == 0 {
		errs[sec.ID] = "At least one complete entry is required"
	}
}

func rowFieldError(f model.RowFieldDefinition, raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return orDefault(f.Message, fmt.Sprintf("%s is required", rowLabelOf(f)))
	}
	if f.Type == "number" {
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return orDefault(f.Message, fmt.Sprintf("%s must be a number", rowLabelOf(f)))
		}
		min := 0.0
		if f.Min != nil {
			min = *f.Min
		}
		if n <= min {
			return orDefault(f.Message, fmt.Sprintf("%s must be greater than %v", rowLabelOf(f), min))
		}
	}
	return ""
}

func (v *Validator) compiled(pattern string) *regexp.Regexp {
	v.mu.Lock()
	defer v.mu.Unlock()
	if re, ok := v.patterns[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		v.patterns[pattern] = nil
		return nil
	}
	v.patterns[pattern] = re
	return re
}

func rowKey(sectionID string, index int, field string) string {
	return fmt.Sprintf("%s.%d.%s", sectionID, index, field)
}

func sectionState(sections []model.RowSectionState, id string) *model.RowSectionState {
	for i := range sections {
		if sections[i].ID == id {
			return &sections[i]
		}
	}
	return nil
}

func selectorState(selectors []model.SelectorState, id string) *model.SelectorState {
	for i := range selectors {
		if selectors[i].ID == id {
			return &selectors[i]
		}
	}
	return nil
}

func levelLabel(sec model.RowSectionDefinition, i int) string {
	if i < len(sec.Levels) && sec.Levels[i].Label != "" {
		return sec.Levels[i].Label
	}
	if i < len(sec.Levels) {
		return sec.Levels[i].Key
	}
	return "selection"
}

func labelOf(f model.FieldDefinition) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Key
}

func rowLabelOf(f model.RowFieldDefinition) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Key
}

func orDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
