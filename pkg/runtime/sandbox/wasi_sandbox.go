// Package sandbox executes capabilities whose manifest declares provider
// kind Sandboxed: precompiled WebAssembly modules run under wazero with
// deny-by-default host access. No filesystem, no network, no environment,
// no ambient randomness unless a policy explicitly grants it.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Ref identifies a sandboxed capability's WASM artifact by content hash.
type Ref struct {
	Name string
	Hash string // sha256:<hex>, resolved through BlobResolver
}

// BlobResolver fetches the WASM bytes backing a content hash from whatever
// content-addressed store the manifest's provider points at.
type BlobResolver func(ctx context.Context, hash string) ([]byte, error)

// Sandbox runs a capability's compiled artifact against an input payload.
type Sandbox interface {
	Run(ctx context.Context, ref Ref, input []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// Config bounds the resources a single invocation may consume.
type Config struct {
	MemoryLimitBytes int64
	CPUTimeLimit     time.Duration
}

// InProcessSandbox echoes input back immediately. Used for dry-run execution
// and for manifests that declare Sandboxed but supply no WASM artifact yet.
type InProcessSandbox struct{}

func NewInProcessSandbox() *InProcessSandbox { return &InProcessSandbox{} }

func (s *InProcessSandbox) Run(ctx context.Context, ref Ref, input []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return []byte(fmt.Sprintf("dry-run:%s:%s", ref.Name, string(input))), nil
	}
}

func (s *InProcessSandbox) Close(ctx context.Context) error { return nil }

// WASISandbox is the production sandbox: a wazero runtime with WASI preview1
// instantiated and every optional host surface left unwired.
type WASISandbox struct {
	runtime  wazero.Runtime
	resolver BlobResolver
	limits   Config
}

// NewWASISandbox creates a sandbox bounded by the given resource limits.
// resolver supplies the compiled WASM bytes for a capability's content hash.
func NewWASISandbox(ctx context.Context, resolver BlobResolver, limits Config) (*WASISandbox, error) {
	rConfig := wazero.NewRuntimeConfig()
	if limits.MemoryLimitBytes > 0 {
		pages := uint32(limits.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		rConfig = rConfig.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, rConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	return &WASISandbox{runtime: r, resolver: resolver, limits: limits}, nil
}

// OutputMaxBytes bounds combined stdout+stderr captured from one run.
const OutputMaxBytes = 1 << 20

// Run compiles and executes the WASM module behind ref, feeding input on
// stdin and returning stdout. No filesystem, network, clock, or random
// source is wired into the module config — capabilities that need them
// must declare provider kinds other than Sandboxed.
func (s *WASISandbox) Run(ctx context.Context, ref Ref, input []byte) ([]byte, error) {
	wasmBytes, err := s.resolver(ctx, ref.Hash)
	if err != nil {
		return nil, fmt.Errorf("resolve %s (%s): %w", ref.Name, ref.Hash, err)
	}

	runCtx := ctx
	if s.limits.CPUTimeLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.limits.CPUTimeLimit)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(ref.Name).
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	compiled, err := s.runtime.CompileModule(runCtx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", ref.Name, err)
	}
	defer func() { _ = compiled.Close(runCtx) }()

	mod, err := s.runtime.InstantiateModule(runCtx, compiled, modCfg)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, &Error{Code: ErrComputeTimeExhausted, Message: fmt.Sprintf("%s exceeded time limit %s", ref.Name, s.limits.CPUTimeLimit)}
		}
		if isMemoryError(err) {
			return nil, &Error{Code: ErrComputeMemoryExhausted, Message: fmt.Sprintf("%s exceeded memory limit %d bytes", ref.Name, s.limits.MemoryLimitBytes)}
		}
		return nil, fmt.Errorf("instantiate %s: %w", ref.Name, err)
	}
	defer func() { _ = mod.Close(runCtx) }()

	if stdout.Len()+stderr.Len() > OutputMaxBytes {
		return nil, &Error{Code: ErrComputeOutputExhausted, Message: fmt.Sprintf("%s output exceeded %d bytes", ref.Name, OutputMaxBytes)}
	}

	return stdout.Bytes(), nil
}

func (s *WASISandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// Deterministic error codes surfaced to the Runtime Host on sandbox limit violations.
const (
	ErrComputeTimeExhausted   = "ERR_COMPUTE_TIME_EXHAUSTED"
	ErrComputeMemoryExhausted = "ERR_COMPUTE_MEMORY_EXHAUSTED"
	ErrComputeOutputExhausted = "ERR_COMPUTE_OUTPUT_EXHAUSTED"
)

// Error is a typed sandbox limit violation.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func isMemoryError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "memory") && (strings.Contains(msg, "limit") || strings.Contains(msg, "grow") || strings.Contains(msg, "exceeded"))
}
