// Package session implements the MCP Session Layer: a four-state machine
// (Uninitialized -> Initializing -> Active -> Terminated) driving JSON-RPC
// 2.0 over HTTP(S) per spec.md §4.E/§6, in the teacher's plain net/http +
// encoding/json style (pkg/mcp/gateway.go) rather than a generated RPC
// client. Auth header resolution defers to pkg/credentials's encrypted
// vault first, then falls back to explicit headers/config, then
// {NAMESPACE}_MCP_TOKEN, then legacy aliases, then the catch-all
// MCP_AUTH_TOKEN.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/ccos-run/ccos/pkg/credentials"
)

// StatusError is returned when an MCP server responds with a non-2xx HTTP
// status, carrying the status code so callers (the discovery layer's retry
// classifier) can distinguish retryable (429, 5xx) from terminal (4xx)
// failures without string-matching the error text.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// State is one of the four session lifecycle states.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateActive        State = "active"
	StateTerminated    State = "terminated"
)

// DefaultProtocolVersion is the MCP protocol version string this layer
// negotiates by default, per spec.md §6.
const DefaultProtocolVersion = "2024-11-05"

// ServerConfig describes one MCP server endpoint.
type ServerConfig struct {
	Name            string
	Endpoint        string
	AuthToken       string // explicit override, takes precedence over env lookup
	TimeoutSeconds  int
	ProtocolVersion string
}

func (c ServerConfig) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ServerConfig) protocolVersion() string {
	if c.ProtocolVersion == "" {
		return DefaultProtocolVersion
	}
	return c.ProtocolVersion
}

// rpcRequest/rpcResponse are the JSON-RPC 2.0 envelope shapes from spec.md §6.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Session is one short-lived MCP session: one per discovery call, per
// spec.md's "Sessions are short-lived; one per discovery call" lifecycle
// note.
type Session struct {
	mu sync.Mutex

	server    ServerConfig
	client    *http.Client
	state     State
	sessionID string
	authHdr   string // resolved Authorization header value, empty if none
}

// New creates a Session in the Uninitialized state, resolving auth headers
// immediately (resolution never mutates the process environment). creds and
// operatorID are optional: when creds is nil, resolution falls straight
// through to explicit headers/config and the environment chain.
func New(ctx context.Context, server ServerConfig, operatorID string, creds *credentials.Store, explicitHeaders map[string]string, client *http.Client) *Session {
	if client == nil {
		client = &http.Client{Timeout: server.timeout()}
	}
	return &Session{
		server:  server,
		client:  client,
		state:   StateUninitialized,
		authHdr: resolveAuth(ctx, server, operatorID, creds, explicitHeaders),
	}
}

// resolveAuth implements the auth precedence of spec.md §4.E: the
// credentials vault first (covering both its encrypted store and its own
// environment fallback), then explicit headers/config, then
// {NAMESPACE}_MCP_TOKEN, then legacy aliases (GITHUB_PAT/GITHUB_TOKEN for
// the github namespace), then MCP_AUTH_TOKEN.
func resolveAuth(ctx context.Context, server ServerConfig, operatorID string, creds *credentials.Store, explicit map[string]string) string {
	if creds != nil {
		if cred, err := creds.GetCredential(ctx, operatorID, credentials.ProviderType(server.Name)); err == nil && cred != nil && cred.AccessToken != "" {
			return "Bearer " + cred.AccessToken
		}
	}
	if v, ok := explicit["Authorization"]; ok && v != "" {
		return v
	}
	if server.AuthToken != "" {
		return "Bearer " + server.AuthToken
	}

	ns := strings.ToUpper(strings.ReplaceAll(server.Name, "-", "_"))
	if v := os.Getenv(ns + "_MCP_TOKEN"); v != "" {
		return "Bearer " + v
	}
	if strings.EqualFold(server.Name, "github") {
		if v := os.Getenv("GITHUB_PAT"); v != "" {
			return "Bearer " + v
		}
		if v := os.Getenv("GITHUB_TOKEN"); v != "" {
			return "Bearer " + v
		}
	}
	if v := os.Getenv("MCP_AUTH_TOKEN"); v != "" {
		return "Bearer " + v
	}
	return ""
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize transitions Uninitialized -> Initializing -> Active by POSTing
// the JSON-RPC `initialize` envelope and storing the Mcp-Session-Id header
// from a 2xx response.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return ccoserr.New(ccoserr.KindProtocol, fmt.Sprintf("mcp session: Initialize called from state %s", s.state))
	}
	s.state = StateInitializing
	s.mu.Unlock()

	params := map[string]interface{}{
		"protocolVersion": s.server.protocolVersion(),
		"clientInfo":      map[string]string{"name": "ccos", "version": "1.0.0"},
	}

	resp, rawHeader, err := s.post(ctx, "initialize", "init", params)
	if err != nil {
		s.mu.Lock()
		s.state = StateUninitialized
		s.mu.Unlock()
		return err
	}
	if resp.Error != nil {
		s.mu.Lock()
		s.state = StateUninitialized
		s.mu.Unlock()
		return ccoserr.New(ccoserr.KindProtocol, fmt.Sprintf("mcp session: initialize error: %s", resp.Error.Message))
	}
	if rawHeader == "" {
		s.mu.Lock()
		s.state = StateUninitialized
		s.mu.Unlock()
		return ccoserr.New(ccoserr.KindProtocol, "mcp session: initialize response missing Mcp-Session-Id header")
	}

	s.mu.Lock()
	s.sessionID = rawHeader
	s.state = StateActive
	s.mu.Unlock()
	return nil
}

// Request sends a JSON-RPC call while Active, attaching the Mcp-Session-Id
// header, and returns the raw `result` payload.
func (s *Session) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil, ccoserr.New(ccoserr.KindProtocol, fmt.Sprintf("mcp session: Request called from state %s", s.state))
	}
	s.mu.Unlock()

	resp, _, err := s.post(ctx, method, method, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, ccoserr.New(ccoserr.KindProtocol, fmt.Sprintf("mcp session: %s error: %s", method, resp.Error.Message))
	}
	return resp.Result, nil
}

// Terminate transitions Active -> Terminated. Best-effort: network failures
// during termination are swallowed, matching spec.md's "failures ignored".
func (s *Session) Terminate(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateActive {
		s.state = StateTerminated
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	s.mu.Unlock()

	_, _, _ = s.post(ctx, "terminate", "terminate", nil)
}

func (s *Session) post(ctx context.Context, method, id string, params interface{}) (rpcResponse, string, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return rpcResponse{}, "", ccoserr.Wrap(ccoserr.KindInternal, "mcp session: marshaling request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.server.Endpoint, bytes.NewReader(body))
	if err != nil {
		return rpcResponse{}, "", ccoserr.Wrap(ccoserr.KindNetwork, "mcp session: building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authHdr != "" {
		req.Header.Set("Authorization", s.authHdr)
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}

	httpResp, err := s.client.Do(req)
	if err != nil {
		return rpcResponse{}, "", ccoserr.Wrap(ccoserr.KindNetwork, fmt.Sprintf("mcp session: %s request", method), err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return rpcResponse{}, "", ccoserr.Wrap(ccoserr.KindNetwork, "mcp session: reading response body", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return rpcResponse{}, "", ccoserr.Wrap(ccoserr.KindNetwork,
			fmt.Sprintf("mcp session: %s", method), &StatusError{StatusCode: httpResp.StatusCode, Body: string(raw)})
	}

	var resp rpcResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return rpcResponse{}, "", ccoserr.Wrap(ccoserr.KindProtocol, "mcp session: decoding response envelope", err)
		}
	}
	return resp, httpResp.Header.Get("Mcp-Session-Id"), nil
}
