package multirepo

import (
	"fmt"
	"sort"
)

// ChildRelation expresses the relationship between two commit pointers
// along the ancestry graph: Same, Ahead, Behind, Unrelated, or Unknown
// (one side missing).
type ChildRelation int

const (
	RelationUnknown ChildRelation = iota
	RelationSame
	RelationAhead
	RelationBehind
	RelationUnrelated
)

func (r ChildRelation) String() string {
	switch r {
	case RelationSame:
		return "Same"
	case RelationAhead:
		return "Ahead"
	case RelationBehind:
		return "Behind"
	case RelationUnrelated:
		return "Unrelated"
	default:
		return "Unknown"
	}
}

func classifyRelation(commits map[ObjectID]*Commit, from, to ObjectID) ChildRelation {
	if from == "" || to == "" {
		return RelationUnknown
	}
	if from == to {
		return RelationSame
	}
	if IsAncestor(commits, from, to) {
		return RelationAhead
	}
	if IsAncestor(commits, to, from) {
		return RelationBehind
	}
	return RelationUnrelated
}

// PointerStatus describes a child pointer at a single level (commit or
// index), optionally annotated with its relation to the adjacent level.
type PointerStatus struct {
	SHA      ObjectID
	URL      string
	Relation ChildRelation
	Present  bool
}

// WorkdirStatus describes an open child's inner head and whether its
// worktree is dirty, plus its relation to the index-pointed commit.
type WorkdirStatus struct {
	InnerHead ObjectID
	IsDirty   bool
	Relation  ChildRelation
}

// ChildStatus reports a single child's three-level status: what the outer
// commit points at, what the outer index points at, and (if open) what its
// worktree currently is.
type ChildStatus struct {
	CommitPointer *PointerStatus
	IndexPointer  *PointerStatus
	Workdir       *WorkdirStatus
	Path          string
	Open          bool
}

// AggregateStatus is the full cross-repository status report.
type AggregateStatus struct {
	Children      map[string]*ChildStatus
	Branch        string
	Head          ObjectID
	Sequencer     *SequencerState
	OuterDirty    bool
	OuterHasIndex bool
}

// ComputeStatus implements §4.E: per-child status derived from the outer
// head tree, the outer index, and (for open children) their own rendered
// state.
func ComputeStatus(a *AST) *AggregateStatus {
	headTree := RenderCommit(a.Commits, a.Head)
	indexView := a.Render()

	paths := map[string]bool{}
	for p, ce := range headTree {
		if ce.Kind == ChangeChildPointer {
			paths[p] = true
		}
	}
	for p, ce := range indexView {
		if ce.Kind == ChangeChildPointer {
			paths[p] = true
		}
	}
	for p := range a.Children {
		paths[p] = true
	}

	out := &AggregateStatus{
		Branch:    a.CurrentBranch,
		Head:      a.Head,
		Sequencer: a.Sequencer,
		Children:  map[string]*ChildStatus{},
	}

	for p := range paths {
		cs := &ChildStatus{Path: p}

		if headCE, ok := headTree[p]; ok && headCE.Kind == ChangeChildPointer {
			cs.CommitPointer = &PointerStatus{Present: true, SHA: headCE.CommitID, URL: headCE.URL}
		}

		if idxCE, ok := indexView[p]; ok && idxCE.Kind == ChangeChildPointer {
			cs.IndexPointer = &PointerStatus{Present: true, SHA: idxCE.CommitID, URL: idxCE.URL}
			if cs.CommitPointer != nil {
				cs.IndexPointer.Relation = classifyRelation(a.Commits, cs.CommitPointer.SHA, cs.IndexPointer.SHA)
			} else {
				cs.IndexPointer.Relation = RelationUnknown
			}
		}

		if child, ok := a.Children[p]; ok && child != nil {
			cs.Open = true
			dirty := len(child.Index) > 0 || len(child.Workdir) > 0
			ws := &WorkdirStatus{InnerHead: child.Head, IsDirty: dirty}
			if cs.IndexPointer != nil {
				ws.Relation = classifyRelation(child.Commits, cs.IndexPointer.SHA, child.Head)
			} else {
				ws.Relation = RelationUnknown
			}
			cs.Workdir = ws
		}

		out.Children[p] = cs
	}

	out.OuterDirty = outerIsDirty(a)
	out.OuterHasIndex = len(a.Index) > 0
	return out
}

func outerIsDirty(a *AST) bool {
	if len(a.Index) > 0 {
		return true
	}
	for _, child := range a.Children {
		if child == nil {
			continue
		}
		if outerIsDirty(child) {
			return true
		}
	}
	return false
}

// EnsureCleanAndConsistent refuses to proceed when any child has a non-Same
// relation, the outer index or any open child's index or worktree carries
// uncommitted changes, or the outer repository has an in-progress
// sequencer. The outer worktree map itself is not inspected.
func EnsureCleanAndConsistent(a *AST) error {
	if a.Sequencer != nil {
		return NewUserError("a sequencer is already in progress; resume or abort it first")
	}
	st := ComputeStatus(a)
	if st.OuterDirty {
		return fmt.Errorf("%w: outer or a child has uncommitted changes", ErrDirtyTree)
	}
	for _, path := range sortedStatusPaths(st.Children) {
		cs := st.Children[path]
		if cs.IndexPointer != nil && cs.IndexPointer.Relation != RelationSame {
			return NewUserError("child %q is %s relative to its outer commit pointer", path, cs.IndexPointer.Relation)
		}
		if cs.Workdir != nil {
			if cs.Workdir.IsDirty {
				return fmt.Errorf("%w: child %q has uncommitted changes", ErrDirtyTree, path)
			}
			if cs.Workdir.Relation != RelationSame {
				return NewUserError("child %q worktree is %s relative to its index pointer", path, cs.Workdir.Relation)
			}
		}
	}
	return nil
}

func sortedStatusPaths(m map[string]*ChildStatus) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FilterStatus restricts a status report to children whose path starts with
// one of the given prefixes (a plain string-prefix match, so "s" also keeps
// "sub"), keeping the shape otherwise intact. A prefix that reaches inside a
// child ("s/x") matches no child, and paths inside a child are not filtered.
func FilterStatus(st *AggregateStatus, prefixes []string) *AggregateStatus {
	if len(prefixes) == 0 {
		return st
	}
	out := &AggregateStatus{
		Branch: st.Branch, Head: st.Head, Sequencer: st.Sequencer,
		OuterDirty: st.OuterDirty, OuterHasIndex: st.OuterHasIndex,
		Children: map[string]*ChildStatus{},
	}
	for path, cs := range st.Children {
		for _, prefix := range prefixes {
			if path == prefix || (len(path) > len(prefix) && path[:len(prefix)] == prefix) {
				out.Children[path] = cs
				break
			}
		}
	}
	return out
}
