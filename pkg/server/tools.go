// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/queryguard/queryguard/pkg/engine"
	"github.com/queryguard/queryguard/pkg/validate"
)

func (s *Server) registerTools() {
	s.RegisterTool("search",
		"Run a search query under guardrail policy. The query is validated, "+
			"rewritten with safety limits, executed, and its results masked.",
		s.handleSearch)
	s.RegisterTool("reload_policy",
		"Reload the guardrails policy configuration.",
		s.handleReload)
	s.RegisterTool("health",
		"Report engine and search platform health.",
		s.handleHealth)
}

func (s *Server) handleSearch(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return errResult("query is required"), nil
	}
	caller := callerFromArgs(args)

	decision, err := s.engine.ValidateQuery(ctx, query, caller)
	if err != nil {
		return errResult(err.Error()), nil
	}

	content := map[string]interface{}{
		"decision":   string(decision.Status),
		"role":       decision.Role,
		"query":      decision.Query,
		"violations": decision.Reasons(),
	}

	if decision.Status == validate.StatusBlocked {
		content["blocked"] = true
		return &mcp.CallToolResult{StructuredContent: content}, nil
	}

	if s.executor == nil {
		return &mcp.CallToolResult{StructuredContent: content}, nil
	}

	records, err := s.executor.Execute(ctx, decision.Query, decision.Metadata)
	if err != nil {
		return errResult("search execution failed: " + err.Error()), nil
	}
	masked, err := s.engine.MaskResults(ctx, records, caller)
	if err != nil {
		return errResult("masking failed: " + err.Error()), nil
	}

	content["results"] = masked.Records
	content["count"] = len(masked.Records)
	content["masked_fields"] = masked.MaskedFields
	content["filtered_fields"] = masked.FilteredFields
	return &mcp.CallToolResult{StructuredContent: content}, nil
}

func (s *Server) handleReload(ctx context.Context, _ map[string]interface{}) (*mcp.CallToolResult, error) {
	content := map[string]interface{}{
		"reloaded": true,
	}
	if err := s.engine.Reload(ctx); err != nil {
		content["reloaded"] = false
		content["error"] = err.Error()
	}
	content["fail_safe_active"] = s.engine.FailSafeActive()
	return &mcp.CallToolResult{StructuredContent: content}, nil
}

func (s *Server) handleHealth(ctx context.Context, _ map[string]interface{}) (*mcp.CallToolResult, error) {
	checkers := map[string]engine.HealthChecker{}
	if pinger, ok := s.executor.(interface{ Ping(context.Context) error }); ok {
		checkers["splunk"] = pingChecker{ping: pinger.Ping}
	}

	results, overall := s.engine.CheckAll(ctx, checkers)
	components := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		c := map[string]interface{}{
			"component": r.Component,
			"status":    string(r.Status),
			"message":   r.Message,
		}
		if r.Error != nil {
			c["error"] = r.Error.Error()
		}
		components = append(components, c)
	}
	return &mcp.CallToolResult{StructuredContent: map[string]interface{}{
		"status":     string(overall),
		"components": components,
	}}, nil
}

type pingChecker struct {
	ping func(context.Context) error
}

func (p pingChecker) Check(ctx context.Context) engine.HealthResult {
	result := engine.HealthResult{
		Status:    engine.HealthHealthy,
		Component: "splunk",
		Message:   "search head reachable",
	}
	if err := p.ping(ctx); err != nil {
		result.Status = engine.HealthUnhealthy
		result.Message = "search head unreachable"
		result.Error = err
	}
	return result
}

func callerFromArgs(args map[string]interface{}) engine.Caller {
	caller := engine.Caller{}
	if v, ok := args["user"].(string); ok {
		caller.Name = v
	}
	if v, ok := args["session_id"].(string); ok {
		caller.SessionID = v
	}
	switch roles := args["roles"].(type) {
	case string:
		caller.Roles = []string{roles}
	case []interface{}:
		for _, r := range roles {
			if s, ok := r.(string); ok {
				caller.Roles = append(caller.Roles, s)
			}
		}
	}
	return caller
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: msg}},
	}
}
