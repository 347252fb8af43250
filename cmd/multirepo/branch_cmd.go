package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/multirepo"
)

var branchDelete bool
var branchStartPoint string

func init() {
	branchCmd.Flags().BoolVarP(&branchDelete, "delete", "d", false, "delete the branch instead of creating it")
	branchCmd.Flags().StringVar(&branchStartPoint, "start-point", "", "create from this commit instead of head")
}

// branchCmd and checkoutCmd operate at the worktree level (branch
// creation/switching touches the working tree, not just the object graph),
// so -- like the teacher's worktree-add/remove calls -- they shell out via
// GitRunner rather than going through the Bridge.
var branchCmd = &cobra.Command{
	Use:   "branch [name]",
	Short: "Create, delete, or list branches across the outer repo and open children",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, dir, err := loadOuter()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return runAcrossRepos(dir, func(ctx context.Context, git multirepo.GitRunner, repoDir string) error {
				res, err := git.Run(ctx, []string{"branch"}, repoDir)
				if err != nil {
					return err
				}
				fmt.Print(res.Stdout)
				return nil
			})
		}
		name := args[0]
		return runAcrossRepos(dir, func(ctx context.Context, git multirepo.GitRunner, repoDir string) error {
			if branchDelete {
				_, err := git.Run(ctx, []string{"branch", "-d", name}, repoDir)
				return err
			}
			branchArgs := []string{"branch", name}
			if branchStartPoint != "" {
				branchArgs = append(branchArgs, branchStartPoint)
			}
			_, err := git.Run(ctx, branchArgs, repoDir)
			return err
		})
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout <branch>",
	Short: "Switch the outer repo and every open child to the same branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, dir, err := loadOuter()
		if err != nil {
			return err
		}
		return runAcrossRepos(dir, func(ctx context.Context, git multirepo.GitRunner, repoDir string) error {
			_, err := git.Run(ctx, []string{"checkout", args[0]}, repoDir)
			return err
		})
	},
}

// runAcrossRepos applies fn to the outer repository and, best-effort, to
// every declared child directory that exists on disk -- a child not
// currently open for the branch in question gets a printed warning and is
// skipped, matching how the teacher's cascading-branch commands tolerate
// worktrees that don't apply to every repo in scope.
func runAcrossRepos(outerDir string, fn func(ctx context.Context, git multirepo.GitRunner, repoDir string) error) error {
	ctx := context.Background()
	git := &multirepo.DefaultGitRunner{}
	output := multirepo.DefaultOutput()

	if err := fn(ctx, git, outerDir); err != nil {
		return err
	}

	outer, err := multirepo.ReadAST(outerDir)
	if err != nil {
		return nil
	}
	for _, d := range multirepo.DeclaredChildren(outer) {
		childDir := filepath.Join(outerDir, d.Path)
		if err := fn(ctx, git, childDir); err != nil {
			output.Warn(fmt.Sprintf("%s: %v", d.Path, err))
			continue
		}
		output.Info(d.Path)
	}
	return nil
}
