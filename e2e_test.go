package multirepo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingGitRunner captures every invocation in call order, for asserting
// publish's child-before-outer push ordering without touching a real git
// binary or filesystem.
type recordingGitRunner struct {
	mu    sync.Mutex
	calls []recordedCall
}

type recordedCall struct {
	args []string
	dir  string
}

func (r *recordingGitRunner) Run(ctx context.Context, args []string, dir string) (*CmdResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{args: args, dir: dir})
	return &CmdResult{}, nil
}

// This file reproduces, as literally as an in-memory AST harness allows, the
// six named scenarios of §8. Where the scenario describes a shelled-out or
// networked step (clone, push), a direct AST/operation construction stands
// in for it, the same way orchestrator_test.go builds its fixtures -- the
// assertions check the same outcomes the scenario names.

// TestE2EPullWithRebase is the "Pull with rebase" scenario: a local branch
// tracking origin/foo, with no commits of its own beyond the tracked
// ancestor, rebases cleanly onto the fetched tip -- degenerating to a
// fast-forward, the case the scenario's literal input actually exercises.
func TestE2EPullWithRebase(t *testing.T) {
	commits := map[ObjectID]*Commit{
		"1": {ID: "1"},
		"2": {ID: "2", Parents: []ObjectID{"1"}},
	}
	x, err := NewAST(AST{
		Commits:       commits,
		Remotes:       map[string]Remote{"origin": {URL: "./a", Branches: map[string]ObjectID{"foo": "2"}}},
		Branches:      map[string]Branch{"master": {Tip: "1", Upstream: "origin/foo"}},
		Head:          "1",
		CurrentBranch: "master",
	})
	require.NoError(t, err)

	o := NewOrchestrator(nil)
	op := NewRebaseOperation("1", "2", ModeNormal)
	result, err := o.Run(context.Background(), op, x)
	require.NoError(t, err)

	require.Equal(t, ObjectID("2"), result.Head)
	require.Equal(t, ObjectID("2"), result.Branches["master"].Tip)
	require.Nil(t, result.Sequencer)
}

// TestE2ECrossRepoMergeWithChildFastForward duplicates the §8 "Cross-repo
// merge with child fast-forward" scenario; it follows the same construction
// as TestOrchestratorMergeChildFastForward (with its own commit ids and a
// subset of its assertions), kept here too so every named scenario has a
// home in this file.
func TestE2ECrossRepoMergeWithChildFastForward(t *testing.T) {
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
		"1": {ID: "1"},
		"3": {ID: "3", Parents: []ObjectID{"1"}, Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "1")}},
		"4": {ID: "4", Parents: []ObjectID{"1"}, Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "2")}},
	}
	outer, err := NewAST(AST{
		Commits:       outerCommits,
		Branches:      map[string]Branch{"main": {Tip: "3"}, "other": {Tip: "4"}},
		Head:          "3",
		CurrentBranch: "main",
		Children:      map[string]*AST{"s": child},
	})
	require.NoError(t, err)

	o := NewOrchestrator(nil)
	result, err := o.Run(context.Background(), NewMergeOperation("4", ModeNormal), outer)
	require.NoError(t, err)

	merged := result.Commits[result.Head]
	require.ElementsMatch(t, []ObjectID{"3", "4"}, merged.Parents)
	rendered := result.Render()
	require.Equal(t, ObjectID("2"), rendered["s"].CommitID)
	require.Equal(t, ObjectID("2"), result.Children["s"].Head)
}

// TestE2ECherryPickWithChildConflict duplicates the §8 "Cherry-pick with
// child conflict" scenario via the same fixture used by
// TestOrchestratorCherryPickChildConflict.
func TestE2ECherryPickWithChildConflict(t *testing.T) {
	outer := buildCherryPickConflictFixture(t)
	o := NewOrchestrator(nil)

	result, err := o.Run(context.Background(), NewCherryPickOperation([]ObjectID{"o3"}, ModeNormal), outer)
	require.Error(t, err)

	conflictErr, ok := AsConflict(err)
	require.True(t, ok)
	require.Equal(t, []string{"s/q"}, conflictErr.Paths)
	require.Equal(t, ObjectID("o2"), result.Head)
	require.NotNil(t, result.Sequencer)
	require.Equal(t, []ObjectID{"o3"}, result.Sequencer.Commits)
	require.Equal(t, 0, result.Sequencer.CurrentIndex)
}

// TestE2EPushWithSyntheticAnchor is the "Push with synthetic anchor"
// scenario: outer "x" has a child "s" pointing at repo "a", and its own
// remote "origin" is repo "b". Publishing main must push s's new commit to
// a's anchor ref before pushing main to b, and only commits changed since
// the last known-published ancestor travel.
func TestE2EPushWithSyntheticAnchor(t *testing.T) {
	child, err := NewAST(AST{
		Commits: map[ObjectID]*Commit{
			"1": {ID: "1"},
			"2": {ID: "2", Parents: []ObjectID{"1"}},
		},
		Head: "2",
	})
	require.NoError(t, err)

	outerCommits := map[ObjectID]*Commit{
		"1": {ID: "1"},
		"2": {ID: "2", Parents: []ObjectID{"1"}, Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "1")}},
		"3": {ID: "3", Parents: []ObjectID{"2"}, Changes: map[string]ChangeEntry{"s": ChildPointer("./a", "2")}},
	}
	outer, err := NewAST(AST{
		Commits:       outerCommits,
		Branches:      map[string]Branch{"main": {Tip: "3"}},
		Remotes:       map[string]Remote{"origin": {URL: "./b", Branches: map[string]ObjectID{"master": "1"}}},
		Head:          "3",
		CurrentBranch: "main",
		Children:      map[string]*AST{"s": child},
	})
	require.NoError(t, err)

	plan, err := ComputePublishPlan(outer, "main")
	require.NoError(t, err)
	require.Equal(t, ObjectID("1"), plan.From)
	require.Equal(t, ObjectID("3"), plan.To)
	require.Len(t, plan.Children, 1)
	require.Equal(t, "s", plan.Children[0].Path)
	require.Equal(t, ObjectID("2"), plan.Children[0].CommitID)
	require.Equal(t, "./a", plan.Children[0].URL)

	git := &recordingGitRunner{}
	outerRoot := "/repo"
	err = Publish(context.Background(), git, plan, outerRoot, "./b", "refs/heads/main", 2)
	require.NoError(t, err)

	require.Len(t, git.calls, 2, "one child push, one outer push")

	childCall := git.calls[0]
	require.Equal(t, filepath.Join(outerRoot, "s"), childCall.dir)
	require.Equal(t, []string{"push", "--force", "./a", "2:" + AnchorRefName("2")}, childCall.args)

	outerCall := git.calls[1]
	require.Equal(t, outerRoot, outerCall.dir)
	require.Equal(t, []string{"push", "./b", "3:refs/heads/main"}, outerCall.args)
}

// TestE2EShorthandRoundTrip is the literal "Shorthand round-trip" scenario:
// parse, then write, then read, then render -- here approximated by
// format-then-reparse (the in-process analogue the shorthand package
// already uses for its own round-trip guarantee).
func TestE2EShorthandRoundTrip(t *testing.T) {
	input := "S:C2-1 x/y/z=meh;I x/y/q=S/a:2;Bmaster=2"
	a, err := ParseShorthand(input)
	require.NoError(t, err)

	formatted := Format(a)
	b, err := ParseShorthand(formatted)
	require.NoError(t, err)

	require.Equal(t, a.Render(), b.Render())
	require.Equal(t, a.Branches["master"].Tip, b.Branches["master"].Tip)

	rendered := a.Render()
	require.Equal(t, "meh", string(rendered["x/y/z"].Blob))
	idx := a.Index["x/y/q"]
	require.Equal(t, ChangeChildPointer, idx.Kind)
	require.Equal(t, ObjectID("2"), idx.CommitID)
}

// TestE2EWorkQueueFailFast is the literal "Work queue fail-fast" scenario.
func TestE2EWorkQueueFailFast(t *testing.T) {
	inputs := []string{"ok1", "fail", "ok2"}
	_, err := Run(context.Background(), inputs, 0, func(ctx context.Context, in string) (string, error) {
		if in == "fail" {
			return "", errors.New("fail")
		}
		return in, nil
	})
	require.Error(t, err)
	require.Equal(t, "fail", err.Error())
}
