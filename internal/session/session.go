// Package session owns the server-side state of mounted form screens. Each
// session holds the scalar values, selector chains, and row sections of one
// screen instance, scoped to the subject that opened it, and is reclaimed
// after its idle TTL.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tukangworks/tukang/internal/assemble"
	"github.com/tukangworks/tukang/internal/composer"
	"github.com/tukangworks/tukang/internal/hierarchy"
	"github.com/tukangworks/tukang/internal/rules"
	"github.com/tukangworks/tukang/model"
)

// Submitter sends assembled payloads to and loads records from the backend.
// catalog.Client satisfies this.
type Submitter interface {
	Submit(ctx context.Context, op model.OperationDefinition, payload map[string]any) (map[string]any, error)
	Load(ctx context.Context, op model.OperationDefinition) (map[string]any, error)
}

// FormSession is one mounted screen instance. Chains and row lists carry
// their own locks; the session lock guards scalar values and the error map.
type FormSession struct {
	ID        string
	ScreenID  string
	SubjectID string

	screen    model.ScreenDefinition
	selectors map[string]*hierarchy.Resolver
	sections  map[string]*composer.RowList
	validator *rules.Validator

	mu         sync.Mutex
	values     map[string]string
	errors     map[string]string
	lastAccess time.Time
}

func newFormSession(id string, screen model.ScreenDefinition, subjectID string,
	src hierarchy.Source, validator *rules.Validator) *FormSession {

	s := &FormSession{
		ID:         id,
		ScreenID:   screen.ID,
		SubjectID:  subjectID,
		screen:     screen,
		selectors:  make(map[string]*hierarchy.Resolver, len(screen.Selectors)),
		sections:   make(map[string]*composer.RowList, len(screen.Sections)),
		validator:  validator,
		values:     make(map[string]string, len(screen.Fields)),
		errors:     map[string]string{},
		lastAccess: time.Now(),
	}
	for _, sel := range screen.Selectors {
		s.selectors[sel.ID] = hierarchy.NewResolver(sel.Levels, src)
	}
	for _, sec := range screen.Sections {
		s.sections[sec.ID] = composer.NewRowList(sec, src)
	}
	return s
}

// start populates the root level of every selector and seeds each required
// section with one empty row, matching how the screen first renders.
func (s *FormSession) start(ctx context.Context) error {
	for _, sel := range s.screen.Selectors {
		if err := s.selectors[sel.ID].Init(ctx); err != nil {
			return model.FetchErrorFrom(err)
		}
	}
	for _, sec := range s.screen.Sections {
		if !sec.Required {
			continue
		}
		if _, err := s.sections[sec.ID].AddRow(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SetField sets one scalar field value.
func (s *FormSession) SetField(key, value string) error {
	if !s.knownField(key) {
		return model.NewBadRequestError("unknown field " + strings.TrimSpace(key))
	}
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

// Value returns one scalar field value.
func (s *FormSession) Value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// SelectAt applies a selection on a standalone selector chain.
func (s *FormSession) SelectAt(ctx context.Context, selectorID string, level int, itemID string) error {
	r, ok := s.selectors[selectorID]
	if !ok {
		return model.NewNotFoundError("unknown selector " + selectorID)
	}
	if err := r.SelectAt(ctx, level, itemID); err != nil {
		return model.FetchErrorFrom(err)
	}
	return nil
}

// Section returns the row list for a section.
func (s *FormSession) Section(sectionID string) (*composer.RowList, error) {
	l, ok := s.sections[sectionID]
	if !ok {
		return nil, model.NewNotFoundError("unknown section " + sectionID)
	}
	return l, nil
}

// Validate runs the full rule set against the current state, stores the
// error map on the session, and returns it. Running it twice in a row
// returns the same result.
func (s *FormSession) Validate() map[string]string {
	errs := s.validator.Validate(s.screen, s.valuesCopy(), s.selectorStates(), s.sectionStates())
	s.mu.Lock()
	s.errors = errs
	s.mu.Unlock()
	return errs
}

// Assemble builds the submission payload from the current state.
func (s *FormSession) Assemble() map[string]any {
	selectors := make(map[string][]*model.Item, len(s.selectors))
	for id, r := range s.selectors {
		selectors[id] = r.SelectedItems()
	}
	rows := make(map[string][]composer.CompletedRow, len(s.sections))
	for id, l := range s.sections {
		rows[id] = l.CompletedRows()
	}
	return assemble.Assemble(s.screen, s.valuesCopy(), selectors, rows)
}

// Submit validates, assembles, and posts the payload. A validation failure
// returns a VALIDATION_ERROR envelope; a backend rejection surfaces as
// SUBMISSION_ERROR. The session state is untouched either way, so the user
// can correct and resubmit.
func (s *FormSession) Submit(ctx context.Context, backend Submitter) (model.SubmitResult, error) {
	if errs := s.Validate(); len(errs) > 0 {
		return model.SubmitResult{}, model.NewValidationError(fieldErrors(errs))
	}

	response, err := backend.Submit(ctx, s.screen.Submit, s.Assemble())
	if err != nil {
		return model.SubmitResult{}, err
	}
	return model.SubmitResult{Status: "submitted", Backend: response}, nil
}

// Hydrate loads an existing record through the screen's load endpoint and
// replays it into the session: scalar values, selector selections, and rows.
func (s *FormSession) Hydrate(ctx context.Context, backend Submitter) error {
	if s.screen.Load == nil {
		return model.NewBadRequestError("screen has no load endpoint")
	}
	record, err := backend.Load(ctx, *s.screen.Load)
	if err != nil {
		return err
	}
	return s.HydrateFromRecord(ctx, record)
}

// HydrateFromRecord replays a backend record into the session.
func (s *FormSession) HydrateFromRecord(ctx context.Context, record map[string]any) error {
	rec := assemble.ParseRecord(s.screen, record)

	s.mu.Lock()
	for k, v := range rec.Values {
		s.values[k] = v
	}
	s.mu.Unlock()

	for _, sel := range s.screen.Selectors {
		if err := s.selectors[sel.ID].Hydrate(ctx, rec.Selectors[sel.ID]); err != nil {
			return model.FetchErrorFrom(err)
		}
	}
	for _, sec := range s.screen.Sections {
		if err := s.sections[sec.ID].Hydrate(ctx, rec.Sections[sec.ID]); err != nil {
			return err
		}
	}
	return nil
}

// Descriptor returns the full observable session state.
func (s *FormSession) Descriptor() model.SessionDescriptor {
	s.mu.Lock()
	errs := make(map[string]string, len(s.errors))
	for k, v := range s.errors {
		errs[k] = v
	}
	s.mu.Unlock()

	d := model.SessionDescriptor{
		ID:       s.ID,
		ScreenID: s.ScreenID,
		Title:    s.screen.Title,
		Values:   s.valuesCopy(),
		Errors:   errs,
	}
	for _, sel := range s.screen.Selectors {
		d.Selectors = append(d.Selectors, model.SelectorState{
			ID:     sel.ID,
			Levels: s.selectors[sel.ID].Snapshot(),
		})
	}
	for _, sec := range s.screen.Sections {
		d.Sections = append(d.Sections, s.sections[sec.ID].Snapshot())
	}
	return d
}

// Screen returns the screen definition this session was mounted from.
func (s *FormSession) Screen() model.ScreenDefinition { return s.screen }

func (s *FormSession) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *FormSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *FormSession) knownField(key string) bool {
	for _, f := range s.screen.Fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

func (s *FormSession) valuesCopy() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *FormSession) selectorStates() []model.SelectorState {
	out := make([]model.SelectorState, 0, len(s.screen.Selectors))
	for _, sel := range s.screen.Selectors {
		out = append(out, model.SelectorState{ID: sel.ID, Levels: s.selectors[sel.ID].Snapshot()})
	}
	return out
}

func (s *FormSession) sectionStates() []model.RowSectionState {
	out := make([]model.RowSectionState, 0, len(s.screen.Sections))
	for _, sec := range s.screen.Sections {
		out = append(out, s.sections[sec.ID].Snapshot())
	}
	return out
}

// fieldErrors converts the flat error map into envelope details, sorted by
// field key for stable responses.
func fieldErrors(errs map[string]string) []model.FieldError {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	details := make([]model.FieldError, 0, len(keys))
	for _, k := range keys {
		details = append(details, model.FieldError{
			Field:   k,
			Code:    model.ErrValidationError,
			Message: errs[k],
		})
	}
	return details
}
