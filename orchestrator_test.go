package multirepo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildCherryPickConflictFixture reproduces the §8 "Cherry-pick with child
// conflict" scenario directly against the AST constructors: a child "s"
// whose two divergent commits both touch path "q" with incompatible
// content, reached via two outer commits that point the same child path at
// each divergent tip.
func buildCherryPickConflictFixture(t *testing.T) *AST {
	t.Helper()

	childCommits := map[ObjectID]*Commit{
		"abase": {ID: "abase"},
		"a2":    {ID: "a2", Parents: []ObjectID{"abase"}, Changes: map[string]ChangeEntry{"q": Blob([]byte("u"), false)}},
		"a3":    {ID: "a3", Parents: []ObjectID{"abase"}, Changes: map[string]ChangeEntry{"q": Blob([]byte("w"), false)}},
	}
	child, err := NewAST(AST{
		Commits:       childCommits,
		Branches:      map[string]Branch{"left": {Tip: "a2"}, "right": {Tip: "a3"}},
		Head:          "a2",
		CurrentBranch: "left",
	})
	require.NoError(t, err)

	outerCommits := map[ObjectID]*Commit{
		"o1": {ID: "o1", Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "abase")}},
		"o2": {ID: "o2", Parents: []ObjectID{"o1"}, Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "a2")}},
		"o3": {ID: "o3", Parents: []ObjectID{"o1"}, Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "a3")}},
	}
	outer, err := NewAST(AST{
		Commits:       outerCommits,
		Branches:      map[string]Branch{"main": {Tip: "o2"}},
		Refs:          map[string]ObjectID{"refs/multirepo/pick-target": "o3"},
		Head:          "o2",
		CurrentBranch: "main",
		Children:      map[string]*AST{"s": child},
	})
	require.NoError(t, err)
	return outer
}

func TestOrchestratorCherryPickChildConflict(t *testing.T) {
	outer := buildCherryPickConflictFixture(t)
	o := NewOrchestrator(nil)

	result, err := o.Run(context.Background(), NewCherryPickOperation([]ObjectID{"o3"}, ModeNormal), outer)
	require.Error(t, err)

	conflictErr, ok := AsConflict(err)
	require.True(t, ok)
	require.Equal(t, []string{"s/q"}, conflictErr.Paths)

	// Outer ref did not move.
	require.Equal(t, ObjectID("o2"), result.Head)

	// Outer index carries exactly the one conflict, at s/q.
	ce, ok := result.Index["s/q"]
	require.True(t, ok)
	require.Equal(t, ChangeConflict, ce.Kind)
	require.Equal(t, "u", string(ce.Ours.Blob))
	require.Equal(t, "w", string(ce.Theirs.Blob))
	require.False(t, ce.Ancestor.Present)

	// Sequencer state is persisted exactly as the scenario specifies.
	require.NotNil(t, result.Sequencer)
	require.Equal(t, SequencerCherryPick, result.Sequencer.Kind)
	require.Equal(t, []ObjectID{"o3"}, result.Sequencer.Commits)
	require.Equal(t, 0, result.Sequencer.CurrentIndex)
	require.Equal(t, ObjectID("o2"), result.Sequencer.OriginalHead.Commit)

	require.Equal(t, PhaseConflicted, o.Phase)
}

func TestOrchestratorCherryPickFastForwardNoConflict(t *testing.T) {
	childCommits := map[ObjectID]*Commit{
		"abase": {ID: "abase"},
		"a2":    {ID: "a2", Parents: []ObjectID{"abase"}, Changes: map[string]ChangeEntry{"q": Blob([]byte("u"), false)}},
	}
	child, err := NewAST(AST{
		Commits: childCommits,
		Refs:    map[string]ObjectID{"refs/multirepo/child-target": "a2"},
		Head:    "abase",
	})
	require.NoError(t, err)

	outerCommits := map[ObjectID]*Commit{
		"o1": {ID: "o1", Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "abase")}},
		"o2": {ID: "o2", Parents: []ObjectID{"o1"}, Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "a2")}},
	}
	outer, err := NewAST(AST{
		Commits:       outerCommits,
		Branches:      map[string]Branch{"main": {Tip: "o1"}},
		Refs:          map[string]ObjectID{"refs/multirepo/pick-target": "o2"},
		Head:          "o1",
		CurrentBranch: "main",
		Children:      map[string]*AST{"s": child},
	})
	require.NoError(t, err)

	o := NewOrchestrator(nil)
	result, err := o.Run(context.Background(), NewCherryPickOperation([]ObjectID{"o2"}, ModeNormal), outer)
	require.NoError(t, err)
	require.NotEqual(t, ObjectID("o1"), result.Head)
	require.Empty(t, result.Index)
	require.Nil(t, result.Sequencer)
	require.Equal(t, PhaseIdle, o.Phase)
}

// TestOrchestratorMergeChildFastForward is the §8 "Cross-repo merge with
// child fast-forward" scenario: outer "main" and "other" are siblings (both
// off a shared root), so the outer merge needs a real two-parent commit, but
// the child pointers they each carry are a genuine ancestor chain, so the
// child itself just fast-forwards.
func TestOrchestratorMergeChildFastForward(t *testing.T) {
	childCommits := map[ObjectID]*Commit{
		"1": {ID: "1"},
		"2": {ID: "2", Parents: []ObjectID{"1"}, Changes: map[string]ChangeEntry{"f": Blob([]byte("v"), false)}},
	}
	child, err := NewAST(AST{
		Commits: childCommits,
		Refs:    map[string]ObjectID{"refs/multirepo/other-target": "2"},
		Head:    "1",
	})
	require.NoError(t, err)

	outerCommits := map[ObjectID]*Commit{
		"root":   {ID: "root"},
		"main3":  {ID: "main3", Parents: []ObjectID{"root"}, Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "1")}},
		"other4": {ID: "other4", Parents: []ObjectID{"root"}, Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "2")}},
	}
	outer, err := NewAST(AST{
		Commits:       outerCommits,
		Branches:      map[string]Branch{"main": {Tip: "main3"}, "other": {Tip: "other4"}},
		Head:          "main3",
		CurrentBranch: "main",
		Children:      map[string]*AST{"s": child},
	})
	require.NoError(t, err)

	o := NewOrchestrator(nil)
	result, err := o.Run(context.Background(), NewMergeOperation("other4", ModeNormal), outer)
	require.NoError(t, err)

	// The outer gets a genuine merge commit with both tips as parents.
	require.NotEqual(t, ObjectID("main3"), result.Head)
	require.NotEqual(t, ObjectID("other4"), result.Head)
	merged := result.Commits[result.Head]
	require.ElementsMatch(t, []ObjectID{"main3", "other4"}, merged.Parents)

	// The child pointer in that commit, and the materialized child head,
	// both land on the fast-forwarded tip.
	rendered := result.Render()
	require.Equal(t, ObjectID("2"), rendered["s"].CommitID)
	require.Equal(t, ObjectID("2"), result.Children["s"].Head)
}

func TestOrchestratorAbortRestoresOriginalHead(t *testing.T) {
	outer := buildCherryPickConflictFixture(t)
	o := NewOrchestrator(nil)
	conflicted, err := o.Run(context.Background(), NewCherryPickOperation([]ObjectID{"o3"}, ModeNormal), outer)
	require.Error(t, err)

	restored, err := o.Abort(conflicted)
	require.NoError(t, err)
	require.Equal(t, ObjectID("o2"), restored.Head)
	require.Empty(t, restored.Index)
	require.Nil(t, restored.Sequencer)
	require.Equal(t, PhaseIdle, o.Phase)
}

func TestOrchestratorRunRejectsDirtyTree(t *testing.T) {
	outer, err := ParseShorthand("S:C1 x=hi;Bmain=1;Ix=bye")
	require.NoError(t, err)

	o := NewOrchestrator(nil)
	_, err = o.Run(context.Background(), NewMergeOperation("1", ModeNormal), outer)
	require.ErrorIs(t, err, ErrDirtyTree)
}
