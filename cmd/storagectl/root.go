package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go-file-engine/internal/app"
	"go-file-engine/internal/config"
	"go-file-engine/internal/logger"
	"go-file-engine/internal/storage"
)

type rootOpts struct {
	verbose bool
	asJSON  bool
	out     io.Writer
	in      io.Reader
	// newEngine is replaced in tests.
	newEngine func(cmd *cobra.Command) (*app.Engine, error)
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{out: os.Stdout, in: os.Stdin}
	opts.newEngine = opts.loadEngine
	return buildRootCmd(opts)
}

func buildRootCmd(opts *rootOpts) *cobra.Command {
	root := &cobra.Command{
		Use:           "storagectl",
		Short:         "Run storage operations against configured resources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		newTransferCmd(opts, "copy"),
		newTransferCmd(opts, "move"),
		newDeleteCmd(opts),
		newRenameCmd(opts),
		newListCmd(opts),
		newTokenCmd(opts),
		newTrashCmd(opts),
	)
	return root
}

func (o *rootOpts) loadEngine(cmd *cobra.Command) (*app.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.LogLevel
	if o.verbose {
		level = "debug"
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.LogFormat, level))

	return app.NewEngine(cmd.Context(), cfg)
}

// location is a "resource:/path" argument.
type location struct {
	ResourceID string
	Path       string
}

func parseLocation(raw string) (location, error) {
	resourceID, p, ok := strings.Cut(raw, ":")
	resourceID = strings.TrimSpace(resourceID)
	if !ok || resourceID == "" {
		return location{}, fmt.Errorf("%q: expected RESOURCE:/PATH", raw)
	}
	return location{ResourceID: resourceID, Path: storage.CleanPath(p)}, nil
}

func parseLocations(raw []string) ([]location, error) {
	locations := make([]location, 0, len(raw))
	for _, arg := range raw {
		loc, err := parseLocation(arg)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
