// multirepo - cross-repository Git operations over an outer repo and its children.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/multirepo"
)

var repoFlag string

func main() {
	multirepo.ConfigureLogging()
	if err := rootCmd.Execute(); err != nil {
		renderErr(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "multirepo",
	Short: "Cross-repository Git operations over an outer repo and its children",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&repoFlag, "repo", "R", "",
		"outer repository root (default: cwd)")

	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(cherryPickCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(includeCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(rebaseCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(submoduleCmd)
	rootCmd.AddCommand(versionCmd)

	submoduleCmd.AddCommand(submoduleStatusCmd)
	submoduleCmd.AddCommand(submoduleAddrefsCmd)
	submoduleCmd.AddCommand(submoduleFindMetaCmd)
}

// renderErr implements §7's rendering rule: a conflict, a UserError, an
// InvalidShorthand or an InvalidRepoShape shows only its message; anything
// else is treated as an internal failure
// and shows its full wrapped chain.
func renderErr(err error) {
	output := multirepo.DefaultOutput()
	if conflict, ok := multirepo.AsConflict(err); ok {
		output.Warn(conflict.Error())
		return
	}
	var userErr *multirepo.UserError
	if errors.As(err, &userErr) {
		output.Error(userErr.Error())
		return
	}
	var shorthandErr *multirepo.InvalidShorthand
	if errors.As(err, &shorthandErr) {
		output.Error(shorthandErr.Error())
		return
	}
	var repoShapeErr *multirepo.InvalidRepoShape
	if errors.As(err, &repoShapeErr) {
		output.Error(repoShapeErr.Error())
		return
	}
	output.Error(fmt.Sprintf("internal error: %+v", err))
}

// root resolves the outer repository path from --repo or cwd.
func root() (string, error) {
	if repoFlag != "" {
		return repoFlag, nil
	}
	return os.Getwd()
}

func loadOuter() (*multirepo.AST, string, error) {
	dir, err := root()
	if err != nil {
		return nil, "", err
	}
	outer, err := multirepo.ReadAST(dir)
	if err != nil {
		return nil, "", err
	}
	return outer, dir, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the multirepo version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version)
		return nil
	},
}

// version is set via -ldflags at release build time; unset in dev builds.
var version = "dev"
