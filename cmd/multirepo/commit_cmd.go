package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/multirepo"
)

var commitMessage string
var commitAll bool

func init() {
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit message")
	commitCmd.Flags().BoolVarP(&commitAll, "all", "a", false, "also include untracked files")
	commitCmd.MarkFlagRequired("message")
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit pending changes in the outer repo and every open child",
	RunE: func(cmd *cobra.Command, args []string) error {
		outer, dir, err := loadOuter()
		if err != nil {
			return err
		}
		author := commitAuthor(outer)
		result, err := multirepo.CommitAll(outer, commitMessage, author, commitAll)
		if err != nil {
			return err
		}
		if err := persistAST(dir, result); err != nil {
			return err
		}
		multirepo.DefaultOutput().Success(fmt.Sprintf("%s now at %s", outer.CurrentBranch, result.Head))
		return nil
	},
}

func commitAuthor(outer *multirepo.AST) string {
	return "multirepo <multirepo@local>"
}
