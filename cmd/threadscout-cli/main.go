package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/app"
	"github.com/kailas-cloud/threadscout/internal/config"
	"github.com/kailas-cloud/threadscout/internal/domain"
	logpkg "github.com/kailas-cloud/threadscout/internal/logger"
)

// CLI runs the discovery services in-process and prints JSON to stdout.
type CLI struct {
	Config   string `help:"Path to a YAML config file (default: config/<ENV>.yaml)" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)" default:"warn"`

	Search  SearchCmd  `cmd:"" help:"Discover posts relevant to a query."`
	Details DetailsCmd `cmd:"" help:"Print the top comments of one post."`
}

// SearchCmd runs the full pipeline once.
type SearchCmd struct {
	Query     string `arg:"" help:"What to look for, 2-200 characters"`
	Sort      string `help:"relevance, hot, top, new, comments" default:"relevance" enum:"relevance,hot,top,new,comments"`
	TimeRange string `name:"time-range" short:"t" help:"hour, day, week, month, year, all" default:"year" enum:"hour,day,week,month,year,all"`
	APIKey    string `name:"api-key" help:"Model API key overriding the configured one" env:"THREADSCOUT_MODEL_API_KEY"`
}

// DetailsCmd fetches comments for a permalink.
type DetailsCmd struct {
	Permalink string `arg:"" help:"Post permalink"`
}

func (c *SearchCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, logger, err := cli.build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = logger.Sync() }()

	sortOrder, err := domain.ParseSortOrder(c.Sort)
	if err != nil {
		return err
	}
	timeRange, err := domain.ParseTimeRange(c.TimeRange)
	if err != nil {
		return err
	}

	resp, err := a.Discovery.Discover(logpkg.ContextWithLogger(ctx, logger), domain.DiscoveryRequest{
		Query:     c.Query,
		Sort:      sortOrder,
		TimeRange: timeRange,
		APIKey:    c.APIKey,
	})
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	return printJSON(resp)
}

func (c *DetailsCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, logger, err := cli.build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = logger.Sync() }()

	details := a.Source.GetDetails(logpkg.ContextWithLogger(ctx, logger), c.Permalink)
	return printJSON(map[string]string{
		"permalink": c.Permalink,
		"details":   details,
	})
}

func (cli *CLI) build(ctx context.Context) (*app.App, *zap.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if cli.Config != "" {
		cfg, err = config.LoadFile(cli.Config)
	} else {
		cfg, err = config.Load(config.GetEnv())
	}
	if err != nil {
		return nil, nil, err
	}

	logger, err := logpkg.NewLogger("cli", cli.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build services: %w", err)
	}
	return a, logger, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("threadscout-cli"),
		kong.Description("Discover relevant community threads from the command line"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
