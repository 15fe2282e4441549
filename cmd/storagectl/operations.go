package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"go-file-engine/internal/model"
	"go-file-engine/internal/service"
)

type batchFlags struct {
	policy   string
	failFast bool
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.policy, "policy", "", "conflict policy: overwrite|skip|keep_both|ask|merge (default from CONFLICT_DEFAULT_POLICY)")
	cmd.Flags().BoolVar(&f.failFast, "fail-fast", false, "stop starting new items after the first failure")
}

func newTransferCmd(opts *rootOpts, verb string) *cobra.Command {
	var flags batchFlags
	kind := model.OperationCopy
	if verb == "move" {
		kind = model.OperationMove
	}

	cmd := &cobra.Command{
		Use:   verb + " SOURCE... DEST_DIR",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " items into a destination directory",
		Long: `Each argument is RESOURCE:/PATH. Every source lands inside DEST_DIR,
which may live on a different resource than the sources.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := parseLocations(args[:len(args)-1])
			if err != nil {
				return err
			}
			dest, err := parseLocation(args[len(args)-1])
			if err != nil {
				return err
			}

			req := model.OperationRequest{
				Kind:        kind,
				Items:       sourceItems(sources),
				Destination: model.Destination{ResourceID: dest.ResourceID, Path: dest.Path},
				FailFast:    flags.failFast,
			}
			if err := applyPolicy(&req, flags.policy); err != nil {
				return err
			}
			return opts.submit(cmd, req)
		},
	}
	flags.register(cmd)
	return cmd
}

func newDeleteCmd(opts *rootOpts) *cobra.Command {
	var (
		flags     batchFlags
		permanent bool
	)

	cmd := &cobra.Command{
		Use:   "delete SOURCE...",
		Short: "Move items to the trash, or remove them with --permanent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := parseLocations(args)
			if err != nil {
				return err
			}

			mode := model.DeleteTrash
			if permanent {
				mode = model.DeletePermanent
			}
			return opts.submit(cmd, model.OperationRequest{
				Kind:       model.OperationDelete,
				Items:      sourceItems(sources),
				DeleteMode: mode,
				FailFast:   flags.failFast,
			})
		},
	}
	cmd.Flags().BoolVar(&permanent, "permanent", false, "skip the trash")
	cmd.Flags().BoolVar(&flags.failFast, "fail-fast", false, "stop starting new items after the first failure")
	return cmd
}

func newRenameCmd(opts *rootOpts) *cobra.Command {
	var flags batchFlags

	cmd := &cobra.Command{
		Use:   "rename SOURCE NEW_NAME",
		Short: "Rename an item within its directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := parseLocation(args[0])
			if err != nil {
				return err
			}

			items := sourceItems([]location{source})
			items[0].NewName = args[1]
			req := model.OperationRequest{Kind: model.OperationRename, Items: items}
			if err := applyPolicy(&req, flags.policy); err != nil {
				return err
			}
			return opts.submit(cmd, req)
		},
	}
	cmd.Flags().StringVar(&flags.policy, "policy", "", "conflict policy when NEW_NAME exists")
	return cmd
}

func sourceItems(sources []location) []model.SourceItem {
	items := make([]model.SourceItem, 0, len(sources))
	for _, src := range sources {
		items = append(items, model.SourceItem{
			ResourceID: src.ResourceID,
			Entry:      model.FileEntry{Path: src.Path},
		})
	}
	return items
}

func applyPolicy(req *model.OperationRequest, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	policy, err := model.ParseConflictPolicy(raw)
	if err != nil {
		return err
	}
	req.ConflictPolicy = policy
	return nil
}

func (o *rootOpts) submit(cmd *cobra.Command, req model.OperationRequest) error {
	engine, err := o.newEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	hooks := service.Hooks{
		OnItemComplete: func(result model.OperationResult) {
			if !o.asJSON {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%d] %s %s\n", result.Index, result.Status, result.Source)
			}
		},
	}
	if req.ConflictPolicy == model.ConflictAsk {
		hooks.OnConflict = newPrompter(o.in, cmd.ErrOrStderr()).ask
	}

	result, err := engine.Orchestrator.Submit(cmd.Context(), req, hooks)
	if err != nil {
		return err
	}
	if err := o.print(result); err != nil {
		return err
	}

	if result.Failed > 0 || result.Cancelled > 0 {
		return fmt.Errorf("%d of %d items did not complete", result.Failed+result.Cancelled, len(result.Items))
	}
	return nil
}

// prompter serializes ASK questions from concurrent items onto one terminal.
type prompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	if in == nil {
		in = os.Stdin
	}
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) ask(ctx context.Context, prompt service.ConflictPrompt) (model.ConflictPolicy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(p.out, "%s already exists on %s. [o]verwrite, [s]kip, [k]eep both, [m]erge? ",
			prompt.Existing.Path, prompt.ResourceID)

		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading answer: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "o", "overwrite":
			return model.ConflictOverwrite, nil
		case "s", "skip":
			return model.ConflictSkip, nil
		case "k", "keep", "keep_both":
			return model.ConflictKeepBoth, nil
		case "m", "merge":
			return model.ConflictMerge, nil
		}
	}
}
