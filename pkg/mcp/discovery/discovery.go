package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/ccos-run/ccos/pkg/manifest"
	"github.com/ccos-run/ccos/pkg/marketplace"
	"github.com/ccos-run/ccos/pkg/mcp/session"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Registrar is the seam Service uses to register discovered capabilities —
// satisfied by *marketplace.Marketplace.
type Registrar interface {
	Has(id string) bool
	Register(m *manifest.CapabilityManifest) error
	Update(m *manifest.CapabilityManifest, force bool) (marketplace.UpdateResult, error)
}

// Service is the MCP Discovery Service: discover_tools, discover_resources,
// tool_to_manifest, register_capability, discover_and_export,
// find_servers_for_capability, and discover_from_registry, per spec.md §4.F.
type Service struct {
	Cache    *Cache // nil disables caching regardless of Options.UseCache
	Registry Registrar
	Logf     func(format string, args ...interface{}) // nil discards logs

	// RedisClient, when set, backs rate limiting with a shared token bucket
	// in Redis instead of an in-process golang.org/x/time/rate.Limiter, so
	// multiple discovery workers sharing one Redis instance enforce a
	// single per-server rate rather than one per process. Nil keeps the
	// default in-process limiter.
	RedisClient *redis.Client

	mu       sync.Mutex
	limiters map[string]RateLimiter
}

// NewService creates a discovery Service. cache and registry may be nil.
func NewService(cache *Cache, registry Registrar) *Service {
	return &Service{Cache: cache, Registry: registry, limiters: make(map[string]RateLimiter)}
}

func (s *Service) log(format string, args ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

func (s *Service) limiterFor(server session.ServerConfig, opts Options) RateLimiter {
	if !opts.RateLimit.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[server.Name]
	if !ok {
		rpm := opts.RateLimit.RPM
		if rpm <= 0 {
			rpm = 60
		}
		if s.RedisClient != nil {
			l = NewRedisRateLimiter(s.RedisClient, server.Name, rpm)
		} else {
			l = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		}
		s.limiters[server.Name] = l
	}
	return l
}

type toolsListResult struct {
	Tools []struct {
		Name        string               `json:"name"`
		Description string               `json:"description,omitempty"`
		InputSchema *manifest.JSONSchema `json:"inputSchema,omitempty"`
	} `json:"tools"`
}

// DiscoverTools discovers a server's tools, consulting and populating the
// cache when opts.UseCache is set, with output-schema introspection for
// read-only-looking tools when both IntrospectOutputSchemas and
// !LazyOutputSchemas permit it.
func (s *Service) DiscoverTools(ctx context.Context, server session.ServerConfig, opts Options) ([]Tool, error) {
	if opts.UseCache && s.Cache != nil {
		if cached, ok := s.Cache.Get(server.Endpoint); ok {
			return cached, nil
		}
	}

	limiter := s.limiterFor(server, opts)
	var tools []Tool

	err := traceDiscovery(ctx, server.Name, func(ctx context.Context) error {
		return withRetry(ctx, limiter, opts.Retry, func() error {
			sess := session.New(ctx, server, opts.OperatorID, opts.Credentials, opts.AuthHeaders, nil)
			if err := sess.Initialize(ctx); err != nil {
				return err
			}
			defer sess.Terminate(ctx)

			raw, err := sess.Request(ctx, "tools/list", map[string]interface{}{})
			if err != nil {
				return err
			}
			var parsed toolsListResult
			if err := json.Unmarshal(raw, &parsed); err != nil {
				return ccoserr.Wrap(ccoserr.KindSchema, "discovery: decoding tools/list result", err)
			}

			tools = tools[:0]
			for _, t := range parsed.Tools {
				tool := Tool{
					ToolName:    t.Name,
					Description: t.Description,
					InputSchema: manifest.FromJSONSchema(t.InputSchema),
				}
				if t.InputSchema != nil {
					if rawSchema, err := json.Marshal(t.InputSchema); err == nil {
						tool.RawInputSchemaRaw = rawSchema
					}
				}

				if opts.IntrospectOutputSchemas && !opts.LazyOutputSchemas && looksReadOnly(t.Name) {
					args := synthesizeSafeDefaults(t.InputSchema)
					if result, err := sess.Request(ctx, "tools/call", map[string]interface{}{"name": t.Name, "arguments": args}); err == nil {
						tool.OutputSchema = inferOutputType(result)
					}
				}

				tools = append(tools, tool)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if opts.UseCache && s.Cache != nil {
		if err := s.Cache.Put(server.Endpoint, tools); err != nil {
			s.log("discovery: caching %s failed: %v", server.Endpoint, err)
		}
	}
	return tools, nil
}

type resourcesListResult struct {
	Resources []Resource `json:"resources"`
}

// DiscoverResources discovers a server's resources via `resources/list`.
func (s *Service) DiscoverResources(ctx context.Context, server session.ServerConfig, opts Options) ([]Resource, error) {
	limiter := s.limiterFor(server, opts)
	var resources []Resource

	err := withRetry(ctx, limiter, opts.Retry, func() error {
		sess := session.New(ctx, server, opts.OperatorID, opts.Credentials, opts.AuthHeaders, nil)
		if err := sess.Initialize(ctx); err != nil {
			return err
		}
		defer sess.Terminate(ctx)

		raw, err := sess.Request(ctx, "resources/list", map[string]interface{}{})
		if err != nil {
			return err
		}
		var parsed resourcesListResult
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return ccoserr.Wrap(ccoserr.KindSchema, "discovery: decoding resources/list result", err)
		}
		resources = parsed.Resources
		return nil
	})
	return resources, err
}

// RegisterCapability routes a manifest to the Marketplace & Catalog,
// updating in place if the id is already registered.
func (s *Service) RegisterCapability(m *manifest.CapabilityManifest) error {
	if s.Registry == nil {
		return ccoserr.New(ccoserr.KindInternal, "discovery: no registry configured")
	}
	if s.Registry.Has(m.ID) {
		_, err := s.Registry.Update(m, true)
		return err
	}
	return s.Registry.Register(m)
}

// ExportResult captures the outcome of DiscoverAndExport for one server.
type ExportResult struct {
	Manifests []*manifest.CapabilityManifest
	Exported  []string // paths written, if ExportToRTFS was set
}

// DiscoverAndExport runs discover -> manifest -> optional register ->
// optional RTFS export, per spec.md §4.F.
func (s *Service) DiscoverAndExport(ctx context.Context, server session.ServerConfig, opts Options) (*ExportResult, error) {
	tools, err := s.DiscoverTools(ctx, server, opts)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{}
	for _, tool := range tools {
		m := ToolToManifest(tool, server)
		result.Manifests = append(result.Manifests, m)

		if opts.RegisterInMarketplace {
			if err := s.RegisterCapability(m); err != nil {
				s.log("discovery: registering %s failed: %v", m.ID, err)
			}
		}
		if opts.ExportToRTFS {
			dir := opts.ExportDirectory
			if dir == "" {
				dir = "capabilities/discovered/mcp"
			}
			storage, err := marketplace.NewFileStorage(dir)
			if err != nil {
				return result, err
			}
			path, err := storage.Write(string(m.Provider.Kind), server.Name, tool.ToolName, renderDiscoveredRTFS(m))
			if err != nil {
				return result, err
			}
			result.Exported = append(result.Exported, path)
		}
	}
	return result, nil
}

func renderDiscoveredRTFS(m *manifest.CapabilityManifest) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "(capability %q :name %q :version %q :provider %q :metadata {:mcp {:server_url %q :tool_name %q}})\n",
		m.ID, m.DisplayName, m.Version, m.Provider.Kind, m.Provider.ServerURL, m.Provider.ToolName)
	return []byte(b.String())
}

// FindServersForCapability fans out discovery across candidates bounded by
// opts.MaxParallelDiscoveries and returns the servers whose tool list
// contains a tool matching name (by the synthesized capability id).
func (s *Service) FindServersForCapability(ctx context.Context, name string, candidates []session.ServerConfig, opts Options) ([]session.ServerConfig, error) {
	matches := s.fanOut(ctx, candidates, opts, func(server session.ServerConfig, tools []Tool) bool {
		for _, t := range tools {
			if CapabilityID(server.Name, t.ToolName) == name || t.ToolName == name {
				return true
			}
		}
		return false
	})
	return matches, nil
}

// DiscoverFromRegistry fans out discovery across servers and returns every
// tool whose name or description contains query (case-insensitive).
func (s *Service) DiscoverFromRegistry(ctx context.Context, query string, servers []session.ServerConfig, opts Options) ([]Tool, error) {
	var all []Tool
	var mu sync.Mutex

	s.fanOut(ctx, servers, opts, func(server session.ServerConfig, tools []Tool) bool {
		lowerQuery := strings.ToLower(query)
		mu.Lock()
		defer mu.Unlock()
		for _, t := range tools {
			if strings.Contains(strings.ToLower(t.ToolName), lowerQuery) || strings.Contains(strings.ToLower(t.Description), lowerQuery) {
				all = append(all, t)
			}
		}
		return false
	})
	return all, nil
}

// fanOut discovers every server concurrently, bounded by
// opts.MaxParallelDiscoveries (default 4), logging per-server failures
// without failing the batch, and returns the servers for which keep(server,
// tools) reports true. A panic inside one server's goroutine is recovered,
// logged, and treated as that server failing to resolve.
func (s *Service) fanOut(ctx context.Context, servers []session.ServerConfig, opts Options, keep func(session.ServerConfig, []Tool) bool) []session.ServerConfig {
	maxParallel := opts.MaxParallelDiscoveries
	if maxParallel <= 0 {
		maxParallel = 4
	}
	sem := semaphore.NewWeighted(int64(maxParallel))

	var mu sync.Mutex
	var kept []session.ServerConfig
	var wg sync.WaitGroup

	for _, server := range servers {
		server := server
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					s.log("discovery: panic discovering %s: %v", server.Name, r)
				}
			}()

			tools, err := s.DiscoverTools(ctx, server, opts)
			if err != nil {
				s.log("discovery: %s failed: %v", server.Name, err)
				return
			}
			if keep(server, tools) {
				mu.Lock()
				kept = append(kept, server)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return kept
}
