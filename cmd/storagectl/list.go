package main

import (
	"github.com/spf13/cobra"
)

func newListCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:     "ls RESOURCE:/PATH",
		Aliases: []string{"list"},
		Short:   "List a directory on a resource",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocation(args[0])
			if err != nil {
				return err
			}

			engine, err := opts.newEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			strategy, err := engine.Registry.Strategy(cmd.Context(), loc.ResourceID)
			if err != nil {
				return err
			}
			entries, err := strategy.List(cmd.Context(), loc.Path)
			if err != nil {
				return err
			}
			return opts.printEntries(entries)
		},
	}
}
