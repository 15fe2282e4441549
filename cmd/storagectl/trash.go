package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTrashCmd(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect and manage the trash ledger",
	}

	var includeRestored bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List trashed items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := opts.newEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			records, err := engine.Trash.List(cmd.Context(), includeRestored)
			if err != nil {
				return err
			}
			return opts.printTrash(records)
		},
	}
	list.Flags().BoolVar(&includeRestored, "all", false, "include restored items")

	restore := &cobra.Command{
		Use:   "restore ID",
		Short: "Put a trashed item back at its original path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.newEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			record, err := engine.Trash.Restore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(opts.out, "restored %s:%s\n", record.ResourceID, record.OriginalPath)
			return err
		},
	}

	var expiredOnly bool
	purge := &cobra.Command{
		Use:   "purge [ID]",
		Short: "Permanently remove one trashed item, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.newEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			if len(args) == 1 {
				if err := engine.Trash.Purge(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err = fmt.Fprintf(opts.out, "purged %s\n", args[0])
				return err
			}

			purge := engine.Trash.Empty
			if expiredOnly {
				purge = engine.Trash.PurgeExpired
			}
			purged, err := purge(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(opts.out, "purged %d items\n", purged)
			return err
		},
	}
	purge.Flags().BoolVar(&expiredOnly, "expired", false, "only purge items past the retention period")

	cmd.AddCommand(list, restore, purge)
	return cmd
}
