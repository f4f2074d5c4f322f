// Package manifest defines the CapabilityManifest data model and the
// structured type-expression language used for capability input/output
// contracts, plus the PEP-boundary argument validation pattern applied
// before a call reaches a provider: JCS canonicalization and a SHA-256
// content hash at the boundary.
package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/ccos-run/ccos/pkg/canonicalize"
	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// EffectClass classifies whether a capability may mutate external state.
type EffectClass string

const (
	EffectClassPure      EffectClass = "pure"
	EffectClassEffectful EffectClass = "effectful"
)

// ProviderKind enumerates how a capability is actually executed.
type ProviderKind string

const (
	ProviderLocal     ProviderKind = "local"
	ProviderNative    ProviderKind = "native"
	ProviderMCP       ProviderKind = "mcp"
	ProviderHTTP      ProviderKind = "http"
	ProviderSandboxed ProviderKind = "sandboxed"
)

// Provider carries provider-kind-specific connection details. Only the
// field(s) matching Kind are meaningful.
type Provider struct {
	Kind ProviderKind `json:"kind"`

	// MCP
	ServerURL string `json:"server_url,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`

	// HTTP
	Endpoint string `json:"endpoint,omitempty"`
	Method   string `json:"method,omitempty"`

	// Sandboxed
	Runtime       string   `json:"runtime,omitempty"`
	SourceHash    string   `json:"source_hash,omitempty"`
	NetworkPolicy string   `json:"network_policy,omitempty"`
	Filesystem    []string `json:"filesystem,omitempty"`
	Secrets       []string `json:"secrets,omitempty"`
}

// Provenance records where a manifest came from and its custody chain.
type Provenance struct {
	Source       string    `json:"source"`
	ContentHash  string    `json:"content_hash"`
	CustodyChain []string  `json:"custody_chain,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Attestation is an optional signed statement about a manifest's integrity.
type Attestation struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"`
}

// CapabilityManifest is the full descriptor for one capability version.
type CapabilityManifest struct {
	// Identity
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"` // strict semver
	Description string `json:"description"`

	// Contract
	InputType   *TypeExpr   `json:"input_type,omitempty"`
	OutputType  *TypeExpr   `json:"output_type,omitempty"`
	Effects     []string    `json:"effects,omitempty"`
	Permissions []string    `json:"permissions,omitempty"`
	EffectClass EffectClass `json:"effect_class"`

	// RawInputSchema, when present, is the original JSON-Schema document
	// InputType was converted from. The Runtime Host validates call
	// arguments against it directly before dispatch — a stricter check
	// than InputType's required/optional shape alone, since JSON-Schema
	// constraints like enum/minimum/pattern don't survive the TypeExpr
	// conversion.
	RawInputSchema json.RawMessage `json:"raw_input_schema,omitempty"`

	Provider Provider `json:"provider"`

	Provenance  Provenance   `json:"provenance"`
	Attestation *Attestation `json:"attestation,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
	Domain   []string          `json:"domain,omitempty"`
}

func (m *CapabilityManifest) semver() (*semver.Version, error) {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, ccoserr.Wrap(ccoserr.KindSchema, fmt.Sprintf("manifest %q: invalid semver %q", m.ID, m.Version), err)
	}
	return v, nil
}

// CompareUpdate reports whether newManifest is a non-breaking update over
// existing (same major version, same or higher minor/patch). force bypasses
// the breaking-change rejection.
func CompareUpdate(existing, newManifest *CapabilityManifest, force bool) (updated bool, previousVersion string, err error) {
	oldV, err := existing.semver()
	if err != nil {
		return false, "", err
	}
	newV, err := newManifest.semver()
	if err != nil {
		return false, "", err
	}

	if newV.LessThan(oldV) {
		return false, existing.Version, ccoserr.New(ccoserr.KindSchema,
			fmt.Sprintf("manifest %q: new version %s is older than existing %s", existing.ID, newV, oldV))
	}
	if newV.Major() != oldV.Major() && !force {
		return false, existing.Version, ccoserr.New(ccoserr.KindSchema,
			fmt.Sprintf("manifest %q: breaking version change %s -> %s requires force=true", existing.ID, oldV, newV))
	}
	return true, existing.Version, nil
}

// ContentHash computes the manifest's canonical content hash, stamping it
// into Provenance.ContentHash.
func (m *CapabilityManifest) ContentHash() (string, error) {
	clone := *m
	clone.Provenance.ContentHash = ""
	hash, err := canonicalize.CanonicalHash(clone)
	if err != nil {
		return "", ccoserr.Wrap(ccoserr.KindSchema, "computing manifest content hash", err)
	}
	return hash, nil
}

// ValidateAgainstJSONSchema validates a raw JSON-Schema document (the format
// callers typically hand in before it is converted into a TypeExpr) using
// santhosh-tekuri/jsonschema, before any TypeExpr conversion is attempted.
func ValidateAgainstJSONSchema(schemaJSON []byte, instance interface{}) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", jsonSchemaReader(schemaJSON)); err != nil {
		return ccoserr.Wrap(ccoserr.KindSchema, "loading JSON schema", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return ccoserr.Wrap(ccoserr.KindSchema, "compiling JSON schema", err)
	}
	if err := schema.Validate(instance); err != nil {
		return ccoserr.Wrap(ccoserr.KindSchema, "instance failed JSON schema validation", err)
	}
	return nil
}

func jsonSchemaReader(raw []byte) interface{} {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		// schema.Compile will surface a clearer error than a nil resource.
		return map[string]interface{}{}
	}
	return v
}
