// Package resolution implements the Resolution Strategy Stack: an ordered
// list of strategies that turn a SubIntent into a ResolvedCapability, per
// spec.md §4.G. Each strategy either resolves, reports NotFound (letting the
// next strategy try), or returns a hard error that aborts the stack.
package resolution

import (
	"errors"

	"github.com/ccos-run/ccos/pkg/manifest"
)

// SubIntent is the unit of work a strategy attempts to resolve: a natural
// language description plus any params already extracted upstream
// (including an optional "_suggested_tool" hint from the LLM arbiter).
type SubIntent struct {
	Description      string
	ExtractedParams  map[string]interface{}
}

// SuggestedTool reads the "_suggested_tool" extracted param, if present.
func (s SubIntent) SuggestedTool() (string, bool) {
	if s.ExtractedParams == nil {
		return "", false
	}
	v, ok := s.ExtractedParams["_suggested_tool"]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Kind discriminates ResolvedCapability's tagged-union variants.
type Kind string

const (
	KindBuiltIn     Kind = "built_in"
	KindLocal       Kind = "local"
	KindMCP         Kind = "mcp"
	KindSynthesized Kind = "synthesized"
)

// ResolvedCapability is a strategy's answer: which provider should handle
// the SubIntent, and with what confidence. Only the fields relevant to Kind
// are meaningful, mirroring the manifest Provider's tagged-union shape.
type ResolvedCapability struct {
	Kind Kind

	ID   string                 // BuiltIn, Local, Synthesized
	Args map[string]interface{} // BuiltIn, Local, MCP

	Server     string // MCP
	Tool       string // MCP
	Confidence float64 // Local, MCP

	RTFSSource string // Synthesized
}

// ResolutionContext carries the collaborators a strategy may consult:
// the capability catalog, an optional embedding service for hybrid scoring,
// an optional LLM client for synthesis/ExternalLLM, and interactivity mode.
type ResolutionContext struct {
	Catalog        CatalogReader
	Embeddings     EmbeddingService // optional
	LLM            LLMClient        // optional
	Interactive    bool
	MinScore       float64 // default 0.4 if zero
	HybridScoring  bool
}

// CatalogReader is the read surface resolution needs from the Marketplace.
type CatalogReader interface {
	Get(id string) (*manifest.CapabilityManifest, bool)
	List(domain string) []*manifest.CapabilityManifest
	SearchByID(fragment string) []*manifest.CapabilityManifest
}

// EmbeddingService computes a similarity score between an intent description
// and a capability's (name + ": " + description) text, in [0,1].
type EmbeddingService interface {
	Similarity(a, b string) (float64, error)
}

// LLMClient is the external arbiter seam for ExternalLLM and
// PureRTFSGeneration's prompt-driven path.
type LLMClient interface {
	// Complete renders templateID with vars and returns the raw completion.
	Complete(templateID string, vars map[string]string) (string, error)
}

// ErrNotFound signals a strategy could not resolve this SubIntent, letting
// the CompositeStrategy try the next one in order.
var ErrNotFound = errors.New("resolution: capability not found")

// Strategy is one entry in the Resolution Strategy Stack.
type Strategy interface {
	Name() string
	CanHandle(intent SubIntent) bool
	Resolve(intent SubIntent, ctx ResolutionContext) (ResolvedCapability, error)
}
