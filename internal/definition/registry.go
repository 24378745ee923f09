package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/tukangworks/tukang/model"
)

// snapshot is an immutable collection of all definitions indexed by ID.
type snapshot struct {
	domains   map[string]model.DomainDefinition
	screens   map[string]model.ScreenDefinition
	endpoints map[string]model.EndpointDefinition
	checksum  string
}

// Registry is a read-optimized, thread-safe store of all loaded
// definitions. It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.DomainDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions.
func (r *Registry) Replace(defs []model.DomainDefinition) {
	s := &snapshot{
		domains:   make(map[string]model.DomainDefinition, len(defs)),
		screens:   make(map[string]model.ScreenDefinition),
		endpoints: make(map[string]model.EndpointDefinition),
	}

	var checksumParts []string

	for _, def := range defs {
		s.domains[def.Domain] = def
		checksumParts = append(checksumParts, def.Checksum)

		for _, ep := range def.Endpoints {
			s.endpoints[ep.ID] = ep
		}
		for _, sc := range def.Screens {
			s.screens[sc.ID] = sc
		}
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetDomain returns the domain definition with the given ID.
func (r *Registry) GetDomain(domainID string) (model.DomainDefinition, bool) {
	d, ok := r.current().domains[domainID]
	return d, ok
}

// GetScreen returns the screen definition with the given ID.
func (r *Registry) GetScreen(screenID string) (model.ScreenDefinition, bool) {
	s, ok := r.current().screens[screenID]
	return s, ok
}

// GetEndpoint returns the catalog endpoint definition with the given ID.
func (r *Registry) GetEndpoint(endpointID string) (model.EndpointDefinition, bool) {
	e, ok := r.current().endpoints[endpointID]
	return e, ok
}

// AllDomains returns the IDs of all loaded domains, sorted.
func (r *Registry) AllDomains() []string {
	s := r.current()
	ids := make([]string, 0, len(s.domains))
	for id := range s.domains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllScreens returns all loaded screen definitions, sorted by ID.
func (r *Registry) AllScreens() []model.ScreenDefinition {
	s := r.current()
	ids := make([]string, 0, len(s.screens))
	for id := range s.screens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	screens := make([]model.ScreenDefinition, 0, len(ids))
	for _, id := range ids {
		screens = append(screens, s.screens[id])
	}
	return screens
}

// Checksum returns the combined checksum of the loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
