// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the guardrails engine as an MCP tool server, so
// AI-agent frontends can run guarded searches without direct platform
// access.
package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/queryguard/queryguard/pkg/engine"
	"github.com/queryguard/queryguard/pkg/splunk"
)

// Server wraps the mcp-go server with the guardrail tools.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *engine.Engine
	executor  splunk.Executor
}

// NewServer creates an MCP server exposing search, reload_policy, and
// health tools backed by the engine. executor may be nil; search then
// reports validation results without running the query.
func NewServer(name, version string, eng *engine.Engine, executor splunk.Executor) *Server {
	s := &Server{
		mcpServer: mcpserver.NewMCPServer(name, version),
		engine:    eng,
		executor:  executor,
	}
	s.registerTools()
	return s
}

// RegisterTool registers an additional tool with the server.
func (s *Server) RegisterTool(name, description string, handler func(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error)) {
	tool := mcp.NewTool(name, mcp.WithDescription(description))

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		return handler(ctx, args)
	})
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

// StreamableHTTPServer returns an HTTP transport for the server.
func (s *Server) StreamableHTTPServer() *mcpserver.StreamableHTTPServer {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}
