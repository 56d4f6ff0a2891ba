package snapshot

import (
	"context"
	"sort"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"go.uber.org/zap"
)

// Snapshot maps entity name to category to value. It is built once per run
// and is read-only afterwards. Iteration order carries no meaning.
type Snapshot struct {
	values map[string]map[string]string
	// conflicts holds every value seen for an entity/category that carried
	// more than one assignment.
	conflicts map[string]map[string][]string
	// Skipped counts scan records whose entity or tag could not be resolved.
	Skipped int
}

func New() *Snapshot {
	return &Snapshot{
		values:    make(map[string]map[string]string),
		conflicts: make(map[string]map[string][]string),
	}
}

// Builder folds one full scan of the tag assignments into a Snapshot.
type Builder struct {
	tagging inventory.Tagging
}

func NewBuilder(tagging inventory.Tagging) *Builder {
	return &Builder{tagging: tagging}
}

// Build issues exactly one unfiltered ListAssignments call. Any failure is
// fatal for the run, no partial snapshot is returned.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	assignments, err := b.tagging.ListAssignments(ctx, inventory.AssignmentFilter{})
	if err != nil {
		if inventory.IsRemoteUnavailable(err) {
			return nil, err
		}
		return nil, inventory.NewErrRemoteUnavailable("assignment scan", err)
	}

	s := New()
	for _, a := range assignments {
		// unresolved records are a known backend artifact
		if !a.Valid() || a.Tag.CategoryName == "" {
			s.Skipped++
			continue
		}
		s.Add(a.Entity.Name, a.Tag.CategoryName, a.Tag.Name)
	}

	zap.S().Named("snapshot").Infow("snapshot built",
		"assignments", len(assignments),
		"entities", len(s.values),
		"skipped", s.Skipped,
		"conflicts", len(s.conflicts))
	return s, nil
}

// Add records value for entity/category. A second distinct value for the same
// pair marks it as conflicting.
func (s *Snapshot) Add(entity, category, value string) {
	cats, ok := s.values[entity]
	if !ok {
		cats = make(map[string]string)
		s.values[entity] = cats
	}

	prev, seen := cats[category]
	if seen && prev != value {
		if _, ok := s.conflicts[entity]; !ok {
			s.conflicts[entity] = make(map[string][]string)
		}
		if len(s.conflicts[entity][category]) == 0 {
			s.conflicts[entity][category] = []string{prev}
		}
		s.conflicts[entity][category] = append(s.conflicts[entity][category], value)
	}
	cats[category] = value
}

// Get returns the value of category on entity.
func (s *Snapshot) Get(entity, category string) (string, bool) {
	v, ok := s.values[entity][category]
	return v, ok
}

// Categories returns the category to value map of entity. The map must not be modified.
func (s *Snapshot) Categories(entity string) map[string]string {
	return s.values[entity]
}

// Conflicting reports whether entity carries more than one value for category.
func (s *Snapshot) Conflicting(entity, category string) bool {
	return len(s.conflicts[entity][category]) > 1
}

// Conflicts returns the values seen for a conflicting entity/category.
func (s *Snapshot) Conflicts(entity, category string) []string {
	return s.conflicts[entity][category]
}

// Entities returns the names of all entities carrying at least one tag, sorted.
func (s *Snapshot) Entities() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CategoryNames returns every category observed in the snapshot, sorted.
func (s *Snapshot) CategoryNames() []string {
	set := make(map[string]struct{})
	for _, cats := range s.values {
		for c := range cats {
			set[c] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for c := range set {
		names = append(names, c)
	}
	sort.Strings(names)
	return names
}

func (s *Snapshot) Len() int {
	return len(s.values)
}
