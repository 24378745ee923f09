package definition

import (
	"fmt"
	"regexp"

	"github.com/tukangworks/tukang/internal/openapi"
	"github.com/tukangworks/tukang/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates definitions structurally, referentially, and against
// the backend OpenAPI specs.
type Validator struct {
	knownFormats map[string]bool
}

// NewValidator creates a new Validator. knownFormats names the built-in
// rule formats the rules package understands.
func NewValidator(knownFormats []string) *Validator {
	formats := make(map[string]bool, len(knownFormats))
	for _, f := range knownFormats {
		formats[f] = true
	}
	return &Validator{knownFormats: formats}
}

// Validate checks all definitions. services names the configured backend
// services. The index may be nil to skip OpenAPI checks; services without
// a loaded spec are skipped too.
func (v *Validator) Validate(defs []model.DomainDefinition, services map[string]bool, index *openapi.Index) []VError {
	var errs []VError

	endpointIDs := make(map[string]bool)
	for _, def := range defs {
		for _, ep := range def.Endpoints {
			endpointIDs[ep.ID] = true
		}
	}

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateDomain(prefix, def, services, endpointIDs, index)...)
	}
	return errs
}

func (v *Validator) validateDomain(prefix string, def model.DomainDefinition,
	services map[string]bool, endpointIDs map[string]bool, index *openapi.Index) []VError {
	var errs []VError

	if def.Domain == "" {
		errs = append(errs, VError{Path: prefix + ".domain", Code: "REQUIRED", Message: "domain is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}

	for i, ep := range def.Endpoints {
		pp := fmt.Sprintf("%s.endpoints[%d]", prefix, i)
		errs = append(errs, v.validateEndpoint(pp, ep, services, index)...)
	}
	for i, sc := range def.Screens {
		sp := fmt.Sprintf("%s.screens[%d]", prefix, i)
		errs = append(errs, v.validateScreen(sp, sc, services, endpointIDs)...)
	}
	return errs
}

func (v *Validator) validateEndpoint(prefix string, ep model.EndpointDefinition,
	services map[string]bool, index *openapi.Index) []VError {
	var errs []VError

	if ep.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "endpoint id is required"})
	}
	if ep.Path == "" {
		errs = append(errs, VError{Path: prefix + ".path", Code: "REQUIRED", Message: "endpoint path is required"})
	}
	if ep.IDField == "" || ep.LabelField == "" {
		errs = append(errs, VError{Path: prefix, Code: "REQUIRED", Message: "id_field and label_field are required"})
	}
	if ep.ServiceID == "" {
		errs = append(errs, VError{Path: prefix + ".service_id", Code: "REQUIRED", Message: "service_id is required"})
	} else if services != nil && !services[ep.ServiceID] {
		errs = append(errs, VError{
			Path:    prefix + ".service_id",
			Code:    "UNKNOWN_SERVICE",
			Message: fmt.Sprintf("service %q is not configured", ep.ServiceID),
		})
	}

	if index != nil && index.HasService(ep.ServiceID) && ep.Path != "" {
		if !index.HasPath(ep.ServiceID, "GET", ep.Path) {
			errs = append(errs, VError{
				Path:    prefix + ".path",
				Code:    "UNKNOWN_PATH",
				Message: fmt.Sprintf("GET %s not found in OpenAPI spec of service %q", ep.Path, ep.ServiceID),
			})
		}
	}
	return errs
}

func (v *Validator) validateScreen(prefix string, sc model.ScreenDefinition,
	services map[string]bool, endpointIDs map[string]bool) []VError {
	var errs []VError

	if sc.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "screen id is required"})
	}
	if sc.Submit.ServiceID == "" || sc.Submit.Path == "" {
		errs = append(errs, VError{Path: prefix + ".submit", Code: "REQUIRED", Message: "submit service_id and path are required"})
	} else if services != nil && !services[sc.Submit.ServiceID] {
		errs = append(errs, VError{
			Path:    prefix + ".submit.service_id",
			Code:    "UNKNOWN_SERVICE",
			Message: fmt.Sprintf("service %q is not configured", sc.Submit.ServiceID),
		})
	}

	fieldKeys := make(map[string]bool, len(sc.Fields))
	for _, f := range sc.Fields {
		fieldKeys[f.Key] = true
	}

	for i, f := range sc.Fields {
		fp := fmt.Sprintf("%s.fields[%d]", prefix, i)
		errs = append(errs, v.validateField(fp, f, fieldKeys)...)
	}
	for i, sel := range sc.Selectors {
		sp := fmt.Sprintf("%s.selectors[%d]", prefix, i)
		errs = append(errs, v.validateLevels(sp, sel.Levels, endpointIDs)...)
	}
	for i, sec := range sc.Sections {
		sp := fmt.Sprintf("%s.sections[%d]", prefix, i)
		if sec.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "section id is required"})
		}
		errs = append(errs, v.validateLevels(sp, sec.Levels, endpointIDs)...)
		for j, rf := range sec.Fields {
			if rf.Key == "" {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.fields[%d].key", sp, j),
					Code:    "REQUIRED",
					Message: "row field key is required",
				})
			}
		}
	}
	return errs
}

func (v *Validator) validateField(prefix string, f model.FieldDefinition, fieldKeys map[string]bool) []VError {
	var errs []VError

	if f.Key == "" {
		errs = append(errs, VError{Path: prefix + ".key", Code: "REQUIRED", Message: "field key is required"})
	}
	if f.Pattern != "" {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			errs = append(errs, VError{
				Path:    prefix + ".pattern",
				Code:    "BAD_PATTERN",
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}
	if f.Format != "" && !v.knownFormats[f.Format] {
		errs = append(errs, VError{
			Path:    prefix + ".format",
			Code:    "UNKNOWN_FORMAT",
			Message: fmt.Sprintf("unknown format %q", f.Format),
		})
	}
	for _, ref := range []struct{ path, key string }{
		{prefix + ".not_equal", f.NotEqual},
		{prefix + ".equal", f.Equal},
	} {
		if ref.key != "" && !fieldKeys[ref.key] {
			errs = append(errs, VError{
				Path:    ref.path,
				Code:    "UNKNOWN_FIELD",
				Message: fmt.Sprintf("references unknown field %q", ref.key),
			})
		}
	}
	for i, variant := range f.Variants {
		vp := fmt.Sprintf("%s.variants[%d]", prefix, i)
		if variant.WhenField != "" && !fieldKeys[variant.WhenField] {
			errs = append(errs, VError{
				Path:    vp + ".when_field",
				Code:    "UNKNOWN_FIELD",
				Message: fmt.Sprintf("references unknown field %q", variant.WhenField),
			})
		}
		if _, err := regexp.Compile(variant.Pattern); err != nil {
			errs = append(errs, VError{
				Path:    vp + ".pattern",
				Code:    "BAD_PATTERN",
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}
	return errs
}

func (v *Validator) validateLevels(prefix string, levels []model.LevelDefinition, endpointIDs map[string]bool) []VError {
	var errs []VError

	if len(levels) == 0 {
		errs = append(errs, VError{Path: prefix + ".levels", Code: "REQUIRED", Message: "at least one level is required"})
	}
	seen := make(map[string]bool, len(levels))
	for i, lvl := range levels {
		lp := fmt.Sprintf("%s.levels[%d]", prefix, i)
		if lvl.Key == "" {
			errs = append(errs, VError{Path: lp + ".key", Code: "REQUIRED", Message: "level key is required"})
		}
		if seen[lvl.Key] {
			errs = append(errs, VError{
				Path:    lp + ".key",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("duplicate level key %q", lvl.Key),
			})
		}
		seen[lvl.Key] = true
		if lvl.Endpoint == "" {
			errs = append(errs, VError{Path: lp + ".endpoint", Code: "REQUIRED", Message: "level endpoint is required"})
		} else if !endpointIDs[lvl.Endpoint] {
			errs = append(errs, VError{
				Path:    lp + ".endpoint",
				Code:    "UNKNOWN_ENDPOINT",
				Message: fmt.Sprintf("references unknown endpoint %q", lvl.Endpoint),
			})
		}
	}
	return errs
}
