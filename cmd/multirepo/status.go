package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/multirepo"
)

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit machine-readable JSON")
	submoduleStatusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit machine-readable JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status [path...]",
	Short: "Show unified outer + child status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(args)
	},
}

var submoduleCmd = &cobra.Command{
	Use:   "submodule",
	Short: "Child-repository maintenance operations",
}

var submoduleStatusCmd = &cobra.Command{
	Use:   "status [path...]",
	Short: "Show status restricted to declared children",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(args)
	},
}

func runStatus(prefixes []string) error {
	outer, _, err := loadOuter()
	if err != nil {
		return err
	}
	st := multirepo.FilterStatus(multirepo.ComputeStatus(outer), prefixes)

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	output := multirepo.DefaultOutput()
	output.Printf("On branch %s\n", st.Branch)
	if st.Sequencer != nil {
		output.Warn(fmt.Sprintf("%s in progress (step %d)", sequencerKindName(st.Sequencer.Kind), st.Sequencer.CurrentIndex))
	}
	if st.OuterDirty {
		output.Warn("outer or a child has uncommitted changes")
	}

	for _, path := range sortedChildPaths(st.Children) {
		cs := st.Children[path]
		line := multirepo.Pad(path, 32)
		switch {
		case cs.Workdir != nil && cs.Workdir.IsDirty:
			line += output.Colorize(multirepo.ColorYellow, "dirty")
		case cs.IndexPointer != nil && cs.IndexPointer.Relation != multirepo.RelationSame && cs.IndexPointer.Relation != multirepo.RelationUnknown:
			line += output.Colorize(multirepo.ColorYellow, cs.IndexPointer.Relation.String())
		case !cs.Open:
			line += output.Colorize(multirepo.ColorDim, "closed")
		default:
			line += output.Colorize(multirepo.ColorGreen, "clean")
		}
		output.Print(line)
	}
	return nil
}

func sequencerKindName(k multirepo.SequencerKind) string {
	switch k {
	case multirepo.SequencerMerge:
		return "merge"
	case multirepo.SequencerCherryPick:
		return "cherry-pick"
	case multirepo.SequencerRebase:
		return "rebase"
	default:
		return "sequencer"
	}
}

func sortedChildPaths(m map[string]*multirepo.ChildStatus) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// status.go's own ChildStatus map has no stable iteration order; sort
	// for deterministic CLI output.
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

var submoduleAddrefsCmd = &cobra.Command{
	Use:   "addrefs",
	Short: "Anchor every open child's current commit under a local ref",
	RunE: func(cmd *cobra.Command, args []string) error {
		outer, _, err := loadOuter()
		if err != nil {
			return err
		}
		output := multirepo.DefaultOutput()
		for _, path := range declaredPaths(outer) {
			child, ok := outer.Children[path]
			if !ok || child == nil {
				continue
			}
			ref := multirepo.AnchorRefName(child.Head)
			child.Refs[ref] = child.Head
			output.Success(fmt.Sprintf("%s: anchored %s at %s", path, ref, child.Head))
		}
		return nil
	},
}

func declaredPaths(outer *multirepo.AST) []string {
	var out []string
	for _, d := range multirepo.DeclaredChildren(outer) {
		out = append(out, d.Path)
	}
	return out
}

var submoduleFindMetaCmd = &cobra.Command{
	Use:   "find-meta",
	Short: "Find the outer repository that declares the current directory as a child",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		outerRoot, childPath, ok := multirepo.FindMeta(cwd, func(dir string) (*multirepo.AST, bool) {
			a, err := multirepo.ReadAST(dir)
			if err != nil {
				return nil, false
			}
			return a, true
		})
		if !ok {
			return multirepo.NewUserError("no outer repository declares %q as a child", cwd)
		}
		output := multirepo.DefaultOutput()
		output.Printf("outer: %s\nchild: %s\n", outerRoot, childPath)
		return nil
	},
}
