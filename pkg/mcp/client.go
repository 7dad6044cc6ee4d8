// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/larderhq/larder/pkg/errors"
	"github.com/larderhq/larder/pkg/resilience"
	"github.com/larderhq/larder/pkg/tool"
)

const (
	defaultCallTimeout = 10 * time.Second
	defaultCacheTTL    = 30 * time.Second
)

// ToolLister discovers the tools an MCP server exposes.
type ToolLister interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// ClientOption customizes the MCP client wrapper behavior.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry replaces the retry configuration used for server calls.
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithToolCacheTTL sets the tool discovery cache TTL. Use 0 to disable
// caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client wraps an mcp-go client with timeouts, retry, and a tool discovery
// cache. MCP servers are treated like any other collaborator: transient
// transport errors are retried, context cancellation is not.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	retry     resilience.RetryConfig
	cacheTTL  time.Duration

	mu          sync.Mutex
	toolsCache  []mcp.Tool
	cacheExpiry time.Time
}

// NewClient creates a Client over the given MCP client implementation.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	wrapped := &Client{
		mcpClient: c,
		timeout:   defaultCallTimeout,
		cacheTTL:  defaultCacheTTL,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(3).
			WithInitialDelay(200 * time.Millisecond).
			WithIsRecoverable(func(err error) bool {
				return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
			}),
	}
	for _, opt := range opts {
		opt(wrapped)
	}
	return wrapped
}

// NewStdioClient starts an MCP server subprocess and returns an initialized
// client connected over stdio.
func NewStdioClient(command string, args []string, opts ...ClientOption) (*Client, error) {
	stdioClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, errors.New(errors.CodeCollaborator, "start mcp server", err)
	}
	if err := stdioClient.Start(context.Background()); err != nil {
		return nil, errors.New(errors.CodeCollaborator, "start mcp client", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "larder-client",
		Version: "0.1.0",
	}
	if _, err := stdioClient.Initialize(ctx, initRequest); err != nil {
		return nil, errors.New(errors.CodeCollaborator, "initialize mcp session", err)
	}
	return NewClient(stdioClient, opts...), nil
}

// ListTools retrieves the tools available on the server, serving from the
// discovery cache when fresh.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}

	var resp *mcp.ListToolsResult
	err := c.retry.Do(ctx, func() error {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		var callErr error
		resp, callErr = c.mcpClient.ListTools(reqCtx, mcp.ListToolsRequest{})
		return callErr
	})
	if err != nil {
		return nil, errors.New(errors.CodeCollaborator, "list mcp tools", err)
	}
	c.storeTools(resp.Tools)
	return resp.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	err := c.retry.Do(ctx, func() error {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		var callErr error
		result, callErr = c.mcpClient.CallTool(reqCtx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) cachedTools() []mcp.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toolsCache) == 0 || time.Now().After(c.cacheExpiry) {
		return nil
	}
	out := make([]mcp.Tool, len(c.toolsCache))
	copy(out, c.toolsCache)
	return out
}

func (c *Client) storeTools(tools []mcp.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = make([]mcp.Tool, len(tools))
	copy(c.toolsCache, tools)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// ToolSource serves both tool discovery and execution. The Client satisfies
// it.
type ToolSource interface {
	ToolLister
	ToolCaller
}

// RegisterTools discovers the source's tools and registers an adapter for
// each one.
func RegisterTools(ctx context.Context, registry *tool.Registry, source ToolSource) (int, error) {
	tools, err := source.ListTools(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range tools {
		adapter, err := NewAdapter(t, source)
		if err != nil {
			return 0, err
		}
		if err := registry.Register(adapter); err != nil {
			return 0, err
		}
	}
	return len(tools), nil
}
