package trust

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// ServerDescriptor is the minimal MCP server shape the add-URL flow
// constructs: just enough to dial the server, with no trust assigned yet.
type ServerDescriptor struct {
	Name      string `json:"name"`
	Endpoint  string `json:"endpoint"`
	Transport string `json:"transport"` // "websocket" or "http"
}

// DeriveServerName names a server from its URL, per spec.md §4.J: GitHub
// URLs become `github/<org>-<repo>`; anything else falls back to the host.
func DeriveServerName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("trust: parsing server URL %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("trust: server URL %q has no host", rawURL)
	}

	host := strings.ToLower(u.Hostname())
	if host == "github.com" || host == "www.github.com" {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segments) >= 2 && segments[0] != "" && segments[1] != "" {
			org := segments[0]
			repo := strings.TrimSuffix(segments[1], ".git")
			return fmt.Sprintf("github/%s-%s", org, repo), nil
		}
	}
	return host, nil
}

// BuildServerDescriptor constructs a ServerDescriptor from a raw URL,
// choosing the websocket transport iff the scheme is ws or wss.
func BuildServerDescriptor(rawURL string) (ServerDescriptor, error) {
	name, err := DeriveServerName(rawURL)
	if err != nil {
		return ServerDescriptor{}, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ServerDescriptor{}, fmt.Errorf("trust: parsing server URL %q: %w", rawURL, err)
	}

	transport := "http"
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		transport = "websocket"
	}

	return ServerDescriptor{Name: name, Endpoint: rawURL, Transport: transport}, nil
}

// OverrideEntry binds a manually-added server to the capability id (and
// domain glob) it was added in response to, so it can be re-surfaced ahead
// of registry-discovered candidates next time that capability is resolved.
type OverrideEntry struct {
	CapabilityID string           `json:"capability_id"`
	DomainGlob   string           `json:"domain_glob"`
	Server       ServerDescriptor `json:"server"`
}

// matches reports whether capabilityID falls under this override's scope:
// an exact capability id match, or a glob match against DomainGlob.
func (e OverrideEntry) matches(capabilityID string) bool {
	if e.CapabilityID == capabilityID {
		return true
	}
	if e.DomainGlob == "" {
		return false
	}
	ok, err := path.Match(e.DomainGlob, capabilityID)
	return err == nil && ok
}

// OverridesStore persists manually-added MCP servers to a JSON file, keyed
// by capability id and domain glob, written atomically via temp-and-rename
// so a crash mid-write never leaves a torn file behind. Grounded on
// pkg/marketplace's FileStorage.Write.
type OverridesStore struct {
	mu   sync.Mutex
	path string
}

// NewOverridesStore opens (without requiring it to yet exist) an overrides
// file at path, e.g. "capabilities/mcp/overrides.json".
func NewOverridesStore(path string) *OverridesStore {
	return &OverridesStore{path: path}
}

// Load reads every persisted override entry, in insertion order. A missing
// file is treated as an empty list, not an error.
func (s *OverridesStore) Load() ([]OverrideEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *OverridesStore) load() ([]OverrideEntry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trust: reading overrides file %q: %w", s.path, err)
	}
	var entries []OverrideEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("trust: parsing overrides file %q: %w", s.path, err)
	}
	return entries, nil
}

// ForCapability returns every override entry whose scope matches
// capabilityID, most-recently-added first — new overrides take priority
// over older ones bound to the same glob.
func (s *OverridesStore) ForCapability(capabilityID string) ([]OverrideEntry, error) {
	entries, err := s.Load()
	if err != nil {
		return nil, err
	}
	matched := make([]OverrideEntry, 0, len(entries))
	for _, e := range entries {
		if e.matches(capabilityID) {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

// Add persists entry at the front of the overrides file, so it is
// considered before any previously-added override for the same scope, per
// spec.md §4.J's "inserts it at the top of the candidate list".
func (s *OverridesStore) Add(entry OverrideEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return err
	}
	entries := append([]OverrideEntry{entry}, existing...)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("trust: encoding overrides file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("trust: creating overrides dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-overrides-*.json")
	if err != nil {
		return fmt.Errorf("trust: creating temp overrides file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("trust: writing temp overrides file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("trust: closing temp overrides file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("trust: renaming overrides file into place: %w", err)
	}
	return nil
}

// AddURL runs the full add-URL flow: derive a descriptor from rawURL,
// persist it scoped to capabilityID/domainGlob, and return the entry ready
// to prepend to the next candidate list.
func (s *OverridesStore) AddURL(rawURL, capabilityID, domainGlob string) (OverrideEntry, error) {
	descriptor, err := BuildServerDescriptor(rawURL)
	if err != nil {
		return OverrideEntry{}, err
	}
	entry := OverrideEntry{CapabilityID: capabilityID, DomainGlob: domainGlob, Server: descriptor}
	if err := s.Add(entry); err != nil {
		return OverrideEntry{}, err
	}
	return entry, nil
}
