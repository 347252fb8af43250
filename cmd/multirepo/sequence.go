package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/multirepo"
)

var ffOnly bool
var rebaseOnto string

func init() {
	mergeCmd.Flags().BoolVar(&ffOnly, "ff-only", false, "refuse unless the merge can fast-forward")
	rebaseCmd.Flags().StringVar(&rebaseOnto, "onto", "", "rebase onto this commit instead of upstream")
}

var mergeCmd = &cobra.Command{
	Use:   "merge <commit>",
	Short: "Merge another outer commit, recursively resolving child pointers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := multirepo.ModeNormal
		if ffOnly {
			mode = multirepo.ModeFFOnly
		}
		return runSequence(multirepo.NewMergeOperation(multirepo.ObjectID(args[0]), mode))
	},
}

var cherryPickCmd = &cobra.Command{
	Use:   "cherry-pick <commit>...",
	Short: "Apply one or more outer commits onto the current head",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]multirepo.ObjectID, len(args))
		for i, a := range args {
			ids[i] = multirepo.ObjectID(a)
		}
		return runSequence(multirepo.NewCherryPickOperation(ids, multirepo.ModeNormal))
	},
}

var rebaseCmd = &cobra.Command{
	Use:   "rebase <upstream>",
	Short: "Replay commits since upstream onto a new base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		onto := rebaseOnto
		if onto == "" {
			onto = args[0]
		}
		return runSequence(multirepo.NewRebaseOperation(multirepo.ObjectID(args[0]), multirepo.ObjectID(onto), multirepo.ModeNormal))
	},
}

func runSequence(op multirepo.Operation) error {
	outer, dir, err := loadOuter()
	if err != nil {
		return err
	}
	registry := multirepo.NewRegistry(outer, childOuterRemoteURL(outer))
	orch := multirepo.NewOrchestrator(registry)

	result, err := orch.Run(context.Background(), op, outer)
	output := multirepo.DefaultOutput()
	if err != nil {
		if conflict, ok := multirepo.AsConflict(err); ok {
			output.Warn(fmt.Sprintf("conflicts recorded at: %v", conflict.Paths))
			output.Info("resolve the listed paths and resume, or abort")
			return conflict
		}
		return err
	}
	if err := persistAST(dir, result); err != nil {
		return err
	}
	output.Success(fmt.Sprintf("now at %s", result.Head))
	return nil
}
