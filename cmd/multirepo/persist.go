package main

import (
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/steveyegge/multirepo"
)

// persistAST writes every commit reachable from a's head (and, recursively,
// each open child's head) into its physical git store and moves the branch
// ref, turning an in-memory Orchestrator result into durable state. This is
// the CLI-level counterpart of the Bridge's read direction: Orchestrator
// and Stash operate on the value-semantics AST; persistAST is what makes
// their output visible to a plain `git log` afterward.
func persistAST(dir string, a *multirepo.AST) error {
	if a.Head == "" {
		return nil
	}
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return err
	}

	order := reachableOrder(a.Commits, a.Head)
	written, err := multirepo.WriteCommits(repo, a.Commits, order)
	if err != nil {
		return err
	}
	if hash, ok := written[a.Head]; ok && a.CurrentBranch != "" {
		if err := multirepo.UpdateRef(repo, a.CurrentBranch, hash); err != nil {
			return err
		}
	} else if a.CurrentBranch != "" {
		if err := multirepo.UpdateRef(repo, a.CurrentBranch, plumbing.NewHash(string(a.Head))); err != nil {
			return err
		}
	}

	for path, child := range a.Children {
		if child == nil {
			continue
		}
		if err := persistAST(filepath.Join(dir, path), child); err != nil {
			return err
		}
	}
	return nil
}

// reachableOrder walks every parent edge from head back to the roots and
// returns the dependency-levelized write order for all of those commits;
// WriteCommits then skips the ones already in the object store.
func reachableOrder(commits map[multirepo.ObjectID]*multirepo.Commit, head multirepo.ObjectID) []multirepo.ObjectID {
	var toWrite []multirepo.ObjectID
	seen := map[multirepo.ObjectID]bool{}
	var walk func(multirepo.ObjectID)
	walk = func(id multirepo.ObjectID) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		c, ok := commits[id]
		if !ok {
			return
		}
		for _, p := range c.Parents {
			walk(p)
		}
		toWrite = append(toWrite, id)
	}
	walk(head)
	plan, err := multirepo.BuildPlan(commits, toWrite)
	if err != nil {
		return toWrite
	}
	return plan.ToWriteOrder()
}
