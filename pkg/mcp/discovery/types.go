// Package discovery implements the MCP Discovery Service: tool/resource
// discovery over the MCP Session Layer with a persistent cache, per-server
// rate limiting, retryable-error classification with capped exponential
// backoff, and bounded parallel fan-out across servers, per spec.md §4.F.
package discovery

import (
	"encoding/json"
	"strings"

	"github.com/ccos-run/ccos/pkg/credentials"
	"github.com/ccos-run/ccos/pkg/manifest"
	"github.com/ccos-run/ccos/pkg/mcp/session"
)

// Tool is the spec's DiscoveredMCPTool: a tool surfaced by `tools/list`,
// with an optionally introspected output schema.
type Tool struct {
	ToolName          string             `json:"tool_name"`
	Description       string             `json:"description,omitempty"`
	InputSchema       *manifest.TypeExpr `json:"input_schema,omitempty"`
	OutputSchema      *manifest.TypeExpr `json:"output_schema,omitempty"`
	RawInputSchemaRaw json.RawMessage    `json:"raw_input_schema_json,omitempty"`
}

// Resource is one entry from `resources/list`.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// RateLimitOptions configures the per-server token-bucket limiter.
type RateLimitOptions struct {
	Enabled bool
	RPM     int // requests per minute
}

// RetryPolicy configures the retry loop's attempt cap; backoff timing is
// fixed exponential-with-cap (see retry.go).
type RetryPolicy struct {
	MaxAttempts int
}

// Options bundles the per-call discovery knobs from spec.md §4.F.
type Options struct {
	UseCache                bool
	RateLimit               RateLimitOptions
	Retry                   RetryPolicy
	IntrospectOutputSchemas bool
	LazyOutputSchemas       bool
	AuthHeaders             map[string]string
	// Credentials, when set, is consulted before AuthHeaders and the
	// environment chain for each server's auth token (see
	// pkg/mcp/session.resolveAuth).
	Credentials            *credentials.Store
	OperatorID             string
	MaxParallelDiscoveries int
	RegisterInMarketplace  bool
	ExportToRTFS           bool
	ExportDirectory        string
}

// readOnlyVerbs are tool-name substrings that disqualify a tool from the
// safe output-schema introspection probe, per spec.md §4.F.
var mutatingVerbs = []string{"create", "update", "delete", "remove", "add", "modify", "write", "post", "put", "patch"}

// looksReadOnly reports whether a tool name contains none of the mutating
// verbs above, making it safe to call once with synthesized default inputs.
func looksReadOnly(toolName string) bool {
	lower := strings.ToLower(toolName)
	for _, v := range mutatingVerbs {
		if strings.Contains(lower, v) {
			return false
		}
	}
	return true
}

// CapabilityID synthesizes the capability id `mcp.<namespace>.<tool>` from a
// server name and tool name, per spec.md §4.F: namespace replaces `/` with
// `.` and spaces with `_`.
func CapabilityID(serverName, toolName string) string {
	ns := strings.ReplaceAll(serverName, "/", ".")
	ns = strings.ReplaceAll(ns, " ", "_")
	return "mcp." + ns + "." + toolName
}

// ToolToManifest converts a discovered Tool into a CapabilityManifest bound
// to the MCP provider, per spec.md §4.F's tool_to_manifest operation.
func ToolToManifest(tool Tool, server session.ServerConfig) *manifest.CapabilityManifest {
	return &manifest.CapabilityManifest{
		ID:          CapabilityID(server.Name, tool.ToolName),
		DisplayName: tool.ToolName,
		Version:     "1.0.0",
		Description: tool.Description,
		InputType:      tool.InputSchema,
		OutputType:     tool.OutputSchema,
		RawInputSchema: tool.RawInputSchemaRaw,
		EffectClass:    manifest.EffectClassEffectful,
		Provider: manifest.Provider{
			Kind:      manifest.ProviderMCP,
			ServerURL: server.Endpoint,
			ToolName:  tool.ToolName,
			TimeoutMs: int64(server.TimeoutSeconds) * 1000,
		},
		Metadata: map[string]string{
			"mcp_server_name":      server.Name,
			"mcp_protocol_version": session.DefaultProtocolVersion,
			"discovery_method":     "mcp_registry",
		},
		Domain: []string{server.Name},
	}
}
