// Package mcp exposes the discovery pipeline as Model Context Protocol tools
// over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/domain"
	"github.com/kailas-cloud/threadscout/internal/logger"
	"github.com/kailas-cloud/threadscout/internal/version"
)

// ServerName is the MCP server name.
const ServerName = "threadscout"

// Tool names.
const (
	ToolDiscoverPosts  = "discover_posts"
	ToolGetPostDetails = "get_post_details"
)

type discoverer interface {
	Discover(ctx context.Context, req domain.DiscoveryRequest) (*domain.DiscoveryResponse, error)
}

type detailer interface {
	GetDetails(ctx context.Context, permalink string) string
}

// Server wraps the MCP server with the pipeline services.
type Server struct {
	mcp       *server.MCPServer
	discovery discoverer
	details   detailer
	logger    *zap.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(discovery discoverer, details detailer, logger *zap.Logger) *Server {
	s := &Server{
		mcp:       server.NewMCPServer(ServerName, version.Version, server.WithToolCapabilities(false)),
		discovery: discovery,
		details:   details,
		logger:    logger,
	}
	s.mcp.AddTool(discoverPostsTool(), s.handleDiscoverPosts)
	s.mcp.AddTool(getPostDetailsTool(), s.handleGetPostDetails)
	return s
}

// Serve blocks serving stdio until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}

func discoverPostsTool() mcp.Tool {
	return mcp.NewTool(ToolDiscoverPosts,
		mcp.WithDescription("Find community discussion threads relevant to a topic. "+
			"Expands the query, searches, filters by meaning and scores each post 0-10 for relevance."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for, 2-200 characters"),
		),
		mcp.WithString("sort",
			mcp.Description("Listing order: relevance (default), hot, top, new, comments"),
			mcp.Enum("relevance", "hot", "top", "new", "comments"),
		),
		mcp.WithString("time_range",
			mcp.Description("Creation window: hour, day, week, month, year (default), all"),
			mcp.Enum("hour", "day", "week", "month", "year", "all"),
		),
	)
}

func getPostDetailsTool() mcp.Tool {
	return mcp.NewTool(ToolGetPostDetails,
		mcp.WithDescription("Fetch the top comments of one post by permalink"),
		mcp.WithString("permalink",
			mcp.Required(),
			mcp.Description("Post permalink as returned by discover_posts"),
		),
	)
}

func (s *Server) handleDiscoverPosts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sortOrder, err := domain.ParseSortOrder(request.GetString("sort", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeRange, err := domain.ParseTimeRange(request.GetString("time_range", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx = logger.ContextWithLogger(ctx, s.logger.With(zap.String("tool", ToolDiscoverPosts)))
	resp, err := s.discovery.Discover(ctx, domain.DiscoveryRequest{
		Query:     query,
		Sort:      sortOrder,
		TimeRange: timeRange,
	})
	if err != nil {
		s.logger.Warn("discover_posts failed", zap.Error(err))
		return mcp.NewToolResultError(toolMessage(err)), nil
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) handleGetPostDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	permalink, err := request.RequireString("permalink")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	permalink = strings.TrimSpace(permalink)
	if permalink == "" {
		return mcp.NewToolResultError("permalink is required"), nil
	}

	details := s.details.GetDetails(ctx, permalink)
	if details == "" {
		return mcp.NewToolResultText("No comments available for " + permalink), nil
	}
	return mcp.NewToolResultText(details), nil
}

// toolMessage turns a pipeline error into text a model can act on.
func toolMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return err.Error()
	case errors.Is(err, domain.ErrUpstreamRateLimited), errors.Is(err, domain.ErrRateLimited):
		if d := domain.RetryAfter(err); d > 0 {
			return fmt.Sprintf("rate limited, retry after %s", d)
		}
		return "rate limited, retry later"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "upstream timeout, retry later"
	case errors.Is(err, domain.ErrBudgetExceeded):
		return domain.ErrBudgetExceeded.Error()
	default:
		return "discovery failed"
	}
}
