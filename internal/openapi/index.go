// Package openapi loads backend OpenAPI documents and answers "does this
// service expose this path" questions. The definition validator uses it to
// catch catalog endpoint typos at startup instead of at first fetch.
package openapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// SpecSource describes an OpenAPI spec file to load.
type SpecSource struct {
	ServiceID string
	SpecPath  string
}

// Index holds the parsed specs keyed by service ID.
type Index struct {
	services map[string]*serviceSpec
}

type serviceSpec struct {
	doc   *openapi3.T
	paths []pathEntry
}

type pathEntry struct {
	template string
	segments []string
	methods  map[string]bool
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{services: make(map[string]*serviceSpec)}
}

// Load parses and indexes the given spec sources. Validation of document
// structure is delegated to kin-openapi.
func (idx *Index) Load(sources []SpecSource) error {
	loader := openapi3.NewLoader()
	for _, src := range sources {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: loading %s: %w", src.SpecPath, err)
		}

		spec := &serviceSpec{doc: doc}
		if doc.Paths != nil {
			for template, item := range doc.Paths.Map() {
				entry := pathEntry{
					template: template,
					segments: splitPath(template),
					methods:  make(map[string]bool),
				}
				for method := range item.Operations() {
					entry.methods[strings.ToUpper(method)] = true
				}
				spec.paths = append(spec.paths, entry)
			}
		}
		sort.Slice(spec.paths, func(i, j int) bool {
			return spec.paths[i].template < spec.paths[j].template
		})

		idx.services[src.ServiceID] = spec
	}
	return nil
}

// HasService reports whether a spec was loaded for the service.
func (idx *Index) HasService(serviceID string) bool {
	_, ok := idx.services[serviceID]
	return ok
}

// HasPath reports whether the service exposes the given method and concrete
// or templated path. Template parameters match any placeholder name, so
// `/api/state/by-region/{region}` satisfies `/api/state/by-region/{regionId}`.
func (idx *Index) HasPath(serviceID, method, path string) bool {
	spec, ok := idx.services[serviceID]
	if !ok {
		return false
	}

	segments := splitPath(path)
	method = strings.ToUpper(method)

	for _, entry := range spec.paths {
		if !entry.methods[method] {
			continue
		}
		if segmentsMatch(entry.segments, segments) {
			return true
		}
	}
	return false
}

// PathCount returns the number of indexed paths for a service. Used by
// readiness checks.
func (idx *Index) PathCount(serviceID string) int {
	spec, ok := idx.services[serviceID]
	if !ok {
		return 0
	}
	return len(spec.paths)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func segmentsMatch(spec, query []string) bool {
	if len(spec) != len(query) {
		return false
	}
	for i := range spec {
		specParam := strings.HasPrefix(spec[i], "{")
		queryParam := strings.HasPrefix(query[i], "{")
		if specParam || queryParam {
			continue
		}
		if spec[i] != query[i] {
			return false
		}
	}
	return true
}
