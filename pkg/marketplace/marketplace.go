// Package marketplace implements the Capability Marketplace & Catalog: a
// versioned, content-addressed registry of CapabilityManifests, sharded by
// (provider-kind, namespace) the way the teacher's trust registry shards its
// materialized view, with many-reader/writer-exclusive locking and
// content-addressed persistence to `<root>/<provider>/<namespace>/<tool>.rtfs`.
package marketplace

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/ccos-run/ccos/pkg/manifest"
)

// UpdateResult mirrors the spec's {updated, version_comparison, previous_version}
// return shape for Update.
type UpdateResult struct {
	Updated           bool
	VersionComparison string // "newer" | "same" | "rejected"
	PreviousVersion   string
}

// shardKey groups manifests by provider kind and namespace, matching the
// persistence layout `<root>/<provider>/<namespace>/<tool>.rtfs`.
type shardKey struct {
	provider  manifest.ProviderKind
	namespace string
}

// Marketplace is the many-reader, writer-exclusive versioned capability
// registry. Reads clone their results so callers never observe a manifest
// still being mutated by a concurrent writer.
type Marketplace struct {
	mu      sync.RWMutex
	byID    map[string]*manifest.CapabilityManifest
	shards  map[shardKey]map[string]bool // shard -> set of ids
	storage Storage
}

// Storage is the content-addressed persistence seam. A nil Storage makes the
// Marketplace purely in-memory (the default for tests).
type Storage interface {
	// Write persists a manifest's RTFS-rendered form at
	// <provider>/<namespace>/<tool>.rtfs and returns the path written.
	Write(providerKind, namespace, tool string, rtfsSource []byte) (string, error)
	// Read loads a previously written manifest source by the same path shape.
	Read(providerKind, namespace, tool string) ([]byte, error)
}

// New creates an empty, in-memory-backed Marketplace. Pass a non-nil Storage
// to persist discovered/registered manifests to a content-addressed tree.
func New(storage Storage) *Marketplace {
	return &Marketplace{
		byID:    make(map[string]*manifest.CapabilityManifest),
		shards:  make(map[shardKey]map[string]bool),
		storage: storage,
	}
}

func namespaceOf(m *manifest.CapabilityManifest) string {
	id := m.ID
	if i := strings.IndexByte(id, '.'); i > 0 {
		// mcp.<namespace>.<tool> or ccos.<namespace> — take the segment after
		// the provider-family prefix as the namespace.
		parts := strings.Split(id, ".")
		if len(parts) >= 2 {
			return parts[1]
		}
	}
	return "default"
}

func toolNameOf(m *manifest.CapabilityManifest) string {
	parts := strings.Split(m.ID, ".")
	return parts[len(parts)-1]
}

// Register inserts a brand-new manifest. It fails if an id already exists —
// callers that intend a version bump must call Update instead.
func (mp *Marketplace) Register(m *manifest.CapabilityManifest) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.byID[m.ID]; exists {
		return ccoserr.New(ccoserr.KindSchema, fmt.Sprintf("marketplace: capability %q already registered, use Update", m.ID))
	}
	return mp.putLocked(m)
}

// Update applies a (possibly version-bumping) manifest over an existing one,
// rejecting breaking changes unless force=true, per CompareUpdate's semver
// rule. Registering a brand-new id via Update is also accepted, matching the
// spec's "updates require non-breaking version comparison" invariant only
// applying once a prior version exists.
func (mp *Marketplace) Update(m *manifest.CapabilityManifest, force bool) (UpdateResult, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	existing, ok := mp.byID[m.ID]
	if !ok {
		if err := mp.putLocked(m); err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{Updated: true, VersionComparison: "newer"}, nil
	}

	updated, previous, err := manifest.CompareUpdate(existing, m, force)
	if err != nil {
		return UpdateResult{Updated: false, VersionComparison: "rejected", PreviousVersion: previous}, err
	}
	if err := mp.putLocked(m); err != nil {
		return UpdateResult{}, err
	}
	cmp := "newer"
	if m.Version == existing.Version {
		cmp = "same"
	}
	return UpdateResult{Updated: updated, VersionComparison: cmp, PreviousVersion: previous}, nil
}

// putLocked stores m in the index and (if configured) persists it. Caller
// must hold mp.mu for writing.
func (mp *Marketplace) putLocked(m *manifest.CapabilityManifest) error {
	clone := *m
	mp.byID[m.ID] = &clone

	key := shardKey{provider: m.Provider.Kind, namespace: namespaceOf(m)}
	set, ok := mp.shards[key]
	if !ok {
		set = make(map[string]bool)
		mp.shards[key] = set
	}
	set[m.ID] = true

	if mp.storage != nil {
		source := renderRTFSStub(m)
		if _, err := mp.storage.Write(string(m.Provider.Kind), namespaceOf(m), toolNameOf(m), source); err != nil {
			return ccoserr.Wrap(ccoserr.KindInternal, fmt.Sprintf("marketplace: persisting manifest %q", m.ID), err)
		}
	}
	return nil
}

// Has reports whether id is currently registered.
func (mp *Marketplace) Has(id string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	_, ok := mp.byID[id]
	return ok
}

// Get returns a cloned copy of the manifest registered under id.
func (mp *Marketplace) Get(id string) (*manifest.CapabilityManifest, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	m, ok := mp.byID[id]
	if !ok {
		return nil, false
	}
	clone := *m
	return &clone, true
}

// SearchByID returns every manifest whose id contains fragment, sorted for
// deterministic output.
func (mp *Marketplace) SearchByID(fragment string) []*manifest.CapabilityManifest {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var out []*manifest.CapabilityManifest
	for id, m := range mp.byID {
		if strings.Contains(id, fragment) {
			clone := *m
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns every manifest tagged with domain, or every manifest if
// domain is empty.
func (mp *Marketplace) List(domain string) []*manifest.CapabilityManifest {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var out []*manifest.CapabilityManifest
	for _, m := range mp.byID {
		if domain != "" && !containsStr(m.Domain, domain) {
			continue
		}
		clone := *m
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// renderRTFSStub produces the minimal RTFS capability form for persistence,
// per spec.md §6's S-expression module layout. The evaluator that actually
// interprets `:implementation` bodies is out of scope (an external
// collaborator); this only needs to round-trip identity/contract/provider.
func renderRTFSStub(m *manifest.CapabilityManifest) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "(capability %q\n", m.ID)
	fmt.Fprintf(&b, "  :name %q\n  :version %q\n  :description %q\n", m.DisplayName, m.Version, m.Description)
	fmt.Fprintf(&b, "  :provider %q\n", m.Provider.Kind)
	if len(m.Permissions) > 0 {
		fmt.Fprintf(&b, "  :permissions %v\n", m.Permissions)
	}
	if len(m.Effects) > 0 {
		fmt.Fprintf(&b, "  :effects %v\n", m.Effects)
	}
	b.WriteString(")\n")
	return []byte(b.String())
}

// PathFor returns the content-addressed relative path a manifest would be
// written to, without actually writing it — used by exporters that batch
// multiple tools per server into one file.
func PathFor(m *manifest.CapabilityManifest) string {
	return filepath.Join(string(m.Provider.Kind), namespaceOf(m), toolNameOf(m)+".rtfs")
}
