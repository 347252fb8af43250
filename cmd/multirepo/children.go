package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/multirepo"
)

var openBare bool

func init() {
	openCmd.Flags().BoolVar(&openBare, "bare", false, "open without materializing a worktree")
	includeCmd.Flags().BoolVar(&openBare, "bare", false, "open without materializing a worktree")
}

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Materialize a declared child repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOpen(args[0])
	},
}

// includeCmd is the same operation under the name spec.md's supplemented
// `include` verb uses: materialize specific declared-but-closed children.
var includeCmd = &cobra.Command{
	Use:   "include <path>...",
	Short: "Materialize specific declared-but-closed children",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			if err := runOpen(path); err != nil {
				return err
			}
		}
		return nil
	},
}

func runOpen(path string) error {
	outer, dir, err := loadOuter()
	if err != nil {
		return err
	}
	config, err := multirepo.LoadRepoConfig(dir)
	if err != nil {
		return err
	}
	output := multirepo.DefaultOutput()
	git := &multirepo.DefaultGitRunner{}
	opts := []multirepo.RegistryOption{multirepo.WithRegistryGitRunner(git), multirepo.WithOpenHooks(config.OpenHooks(), output)}
	if openBare {
		opts = append(opts, multirepo.WithForceBare())
	}
	registry := multirepo.NewRegistry(outer, childOuterRemoteURL(outer), opts...)

	materialize := multirepo.DefaultMaterializer(git, dir, path, openBare)
	if _, err := registry.Open(context.Background(), path, materialize); err != nil {
		return err
	}
	output.Success(fmt.Sprintf("opened %s", path))
	return nil
}

var closeCmd = &cobra.Command{
	Use:   "close <path>",
	Short: "Drop a child's materialized state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outer, dir, err := loadOuter()
		if err != nil {
			return err
		}
		output := multirepo.DefaultOutput()
		config, err := multirepo.LoadRepoConfig(dir)
		if err != nil {
			return err
		}
		if hooks := config.CloseHooks(); len(hooks) > 0 {
			url := ""
			for _, d := range multirepo.DeclaredChildren(outer) {
				if d.Path == args[0] {
					url = d.URL
				}
			}
			if err := multirepo.RunHooks(hooks, filepath.Join(dir, args[0]), url, output); err != nil {
				output.Warn(fmt.Sprintf("pre-close hook failed: %v", err))
			}
		}
		registry := multirepo.NewRegistry(outer, childOuterRemoteURL(outer))
		if err := registry.Close(args[0]); err != nil {
			return err
		}
		output.Success(fmt.Sprintf("closed %s", args[0]))
		return nil
	},
}

func childOuterRemoteURL(outer *multirepo.AST) string {
	if origin, ok := outer.Remotes["origin"]; ok {
		return origin.URL
	}
	return ""
}
