package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/multirepo"
)

var publishQueueLimit int

func init() {
	pushCmd.Flags().IntVar(&publishQueueLimit, "jobs", 4, "max concurrent child pushes")
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish the current branch, pushing changed child pointers first",
	RunE: func(cmd *cobra.Command, args []string) error {
		outer, dir, err := loadOuter()
		if err != nil {
			return err
		}
		if err := persistAST(dir, outer); err != nil {
			return err
		}
		if outer.CurrentBranch == "" {
			return multirepo.NewUserError("push: not on a branch (detached head)")
		}
		plan, err := multirepo.ComputePublishPlan(outer, outer.CurrentBranch)
		if err != nil {
			return err
		}
		origin := childOuterRemoteURL(outer)
		if origin == "" {
			return multirepo.NewUserError("push: outer repository has no \"origin\" remote")
		}
		git := &multirepo.DefaultGitRunner{}
		outerRef := "refs/heads/" + outer.CurrentBranch
		if err := multirepo.Publish(context.Background(), git, plan, dir, origin, outerRef, publishQueueLimit); err != nil {
			return err
		}
		output := multirepo.DefaultOutput()
		output.Success(fmt.Sprintf("pushed %s (%d child pointer(s))", outer.CurrentBranch, len(plan.Children)))
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch origin and merge its copy of the current branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		outer, dir, err := loadOuter()
		if err != nil {
			return err
		}
		if outer.CurrentBranch == "" {
			return multirepo.NewUserError("pull: not on a branch (detached head)")
		}
		git := &multirepo.DefaultGitRunner{}
		if _, err := git.Run(context.Background(), []string{"fetch", "origin"}, dir); err != nil {
			return multirepo.NewStoreError("pull.fetch", err)
		}

		outer, _, err = loadOuter()
		if err != nil {
			return err
		}
		remote, ok := outer.Remotes["origin"]
		if !ok {
			return multirepo.NewUserError("pull: outer repository has no \"origin\" remote")
		}
		theirs, ok := remote.Branches[outer.CurrentBranch]
		if !ok {
			return multirepo.NewUserError("pull: origin has no branch %q", outer.CurrentBranch)
		}

		registry := multirepo.NewRegistry(outer, childOuterRemoteURL(outer))
		orch := multirepo.NewOrchestrator(registry)
		op := multirepo.NewMergeOperation(theirs, multirepo.ModeNormal)
		result, err := orch.Run(context.Background(), op, outer)
		output := multirepo.DefaultOutput()
		if err != nil {
			if conflict, ok := multirepo.AsConflict(err); ok {
				output.Warn(fmt.Sprintf("conflicts recorded at: %v", conflict.Paths))
				return conflict
			}
			return err
		}
		if err := persistAST(dir, result); err != nil {
			return err
		}
		output.Success(fmt.Sprintf("now at %s", result.Head))
		return nil
	},
}
