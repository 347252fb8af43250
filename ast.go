// Package multirepo implements the cross-repository operation engine: an
// in-memory object model for a repository and its materialized children,
// a bridge to a real Git object store, a status/merge/cherry-pick/rebase
// orchestrator that spans a repository and its children, and a publish
// engine that preserves referential integrity across a push.
package multirepo

import (
	"fmt"
	"sort"
)

// ObjectID is a content-address. Two parallel universes exist: logical ids
// used inside the AST and shorthand, and physical ids assigned by the
// store; a bijection per repository is maintained by the Bridge.
type ObjectID string

// Commit is an ordered list of parent ids, a sparse change set describing
// the difference from the first parent, a message, and identities. A
// Commit with zero parents describes absolute state.
type Commit struct {
	ID        ObjectID
	Parents   []ObjectID
	Changes   map[string]ChangeEntry
	Message   string
	Author    string
	Committer string
}

// ChangeKind tags the variant carried by a ChangeEntry.
type ChangeKind int

const (
	ChangeBlob ChangeKind = iota
	ChangeChildPointer
	ChangeRemoved
	ChangeConflict
)

// ChangeEntry is the tagged sum described in spec.md §3. Exactly one of the
// kind-specific field groups is meaningful, selected by Kind.
type ChangeEntry struct {
	Kind ChangeKind

	// ChangeBlob
	Blob       []byte
	Executable bool

	// ChangeChildPointer. CommitID == "" is only legal in the index or
	// worktime, never inside a committed Commit.
	URL      string
	CommitID ObjectID

	// ChangeConflict
	Ancestor ChangeEntryRef
	Ours     ChangeEntryRef
	Theirs   ChangeEntryRef
}

// ChangeEntryRef is a side of a conflict: the side may be absent (the path
// didn't exist on that side), a blob, or a child pointer.
type ChangeEntryRef struct {
	Present  bool
	Blob     []byte
	IsChild  bool
	ChildURL string
	ChildID  ObjectID
}

func Blob(data []byte, executable bool) ChangeEntry {
	return ChangeEntry{Kind: ChangeBlob, Blob: data, Executable: executable}
}

func ChildPointer(url string, id ObjectID) ChangeEntry {
	return ChangeEntry{Kind: ChangeChildPointer, URL: url, CommitID: id}
}

func Removed() ChangeEntry {
	return ChangeEntry{Kind: ChangeRemoved}
}

func Conflict(ancestor, ours, theirs ChangeEntryRef) ChangeEntry {
	return ChangeEntry{Kind: ChangeConflict, Ancestor: ancestor, Ours: ours, Theirs: theirs}
}

// Equal reports structural equality of two change entries, used by the
// Tree Builder and commit-canonicalization checks.
func (c ChangeEntry) Equal(o ChangeEntry) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case ChangeBlob:
		return string(c.Blob) == string(o.Blob) && c.Executable == o.Executable
	case ChangeChildPointer:
		return c.URL == o.URL && c.CommitID == o.CommitID
	case ChangeRemoved:
		return true
	case ChangeConflict:
		return c.Ancestor == o.Ancestor && c.Ours == o.Ours && c.Theirs == o.Theirs
	}
	return false
}

// SequencerKind names the in-progress multi-step operation.
type SequencerKind int

const (
	SequencerRebase SequencerKind = iota
	SequencerCherryPick
	SequencerMerge
)

// RefPair names a commit together with the (optional) symbolic ref it came
// from, so resume/abort can restore the branch pointer, not just the sha.
type RefPair struct {
	Commit ObjectID
	Ref    string // "" if detached
}

// SequencerState is persisted so a partially completed rebase, multi-commit
// cherry-pick, or conflicted merge can be resumed or aborted across process
// invocations.
type SequencerState struct {
	Kind         SequencerKind
	OriginalHead RefPair
	Target       RefPair
	Commits      []ObjectID
	CurrentIndex int
	Message      []byte
}

func (s *SequencerState) validate(commits map[ObjectID]*Commit) error {
	if s == nil {
		return nil
	}
	if s.CurrentIndex < 0 || (len(s.Commits) > 0 && s.CurrentIndex >= len(s.Commits)) {
		return &InvalidRepoShape{Detail: fmt.Sprintf("sequencer current_index %d out of range [0,%d)", s.CurrentIndex, len(s.Commits))}
	}
	for _, id := range append([]ObjectID{s.OriginalHead.Commit, s.Target.Commit}, s.Commits...) {
		if id == "" {
			continue
		}
		if _, ok := commits[id]; !ok {
			return &InvalidRepoShape{Detail: fmt.Sprintf("sequencer references unknown commit %s", id)}
		}
	}
	return nil
}

// Branch pairs a tip commit with an optional upstream tracking ref name.
type Branch struct {
	Tip      ObjectID
	Upstream string
}

// Remote is a named remote with a URL and its known remote-tracking
// branches (branch name -> tip commit, as last fetched).
type Remote struct {
	URL      string
	Branches map[string]ObjectID
}

// AST is a value-semantics snapshot of a repository: commits, branches,
// references, remotes, index, worktree, child-repo declarations,
// materialized children, and in-progress sequencer state. It is built in
// one shot and is immutable thereafter; mutation is expressed by copy with
// a sparse set of field overrides.
type AST struct {
	Commits        map[ObjectID]*Commit
	Branches       map[string]Branch
	Refs           map[string]ObjectID
	Head           ObjectID // "" means bare
	CurrentBranch  string   // "" means none/detached
	Remotes        map[string]Remote
	Index          map[string]ChangeEntry
	Workdir        map[string][]byte // nil value = file is present but untracked-empty is not modeled; absence = not present
	Children       map[string]*AST
	Sequencer      *SequencerState
	Bare           bool
	Sparse         bool
	SparsePatterns []string
	Notes          map[string]map[ObjectID][]byte

	renderCache map[ObjectID]map[string]ChangeEntry
}

// NewAST validates and constructs an AST, enforcing every invariant in
// spec.md §3. It fails with *InvalidRepoShape on violation.
func NewAST(a AST) (*AST, error) {
	out := &a
	if out.Commits == nil {
		out.Commits = map[ObjectID]*Commit{}
	}
	if out.Branches == nil {
		out.Branches = map[string]Branch{}
	}
	if out.Refs == nil {
		out.Refs = map[string]ObjectID{}
	}
	if out.Remotes == nil {
		out.Remotes = map[string]Remote{}
	}
	if out.Index == nil {
		out.Index = map[string]ChangeEntry{}
	}
	if out.Workdir == nil {
		out.Workdir = map[string][]byte{}
	}
	if out.Children == nil {
		out.Children = map[string]*AST{}
	}
	if out.Notes == nil {
		out.Notes = map[string]map[ObjectID][]byte{}
	}
	out.renderCache = map[ObjectID]map[string]ChangeEntry{}

	if err := out.validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *AST) validate() error {
	// 1. every referenced ObjectId exists in commits.
	referenced := map[ObjectID]bool{}
	if a.Head != "" {
		referenced[a.Head] = true
	}
	for name, b := range a.Branches {
		if b.Tip == "" {
			return &InvalidRepoShape{Detail: fmt.Sprintf("branch %q has empty tip", name)}
		}
		referenced[b.Tip] = true
	}
	for name, id := range a.Refs {
		if id == "" {
			return &InvalidRepoShape{Detail: fmt.Sprintf("ref %q has empty target", name)}
		}
		referenced[id] = true
	}
	for name, r := range a.Remotes {
		for branch, id := range r.Branches {
			if id == "" {
				return &InvalidRepoShape{Detail: fmt.Sprintf("remote %q branch %q has empty target", name, branch)}
			}
			referenced[id] = true
		}
	}
	for id, c := range a.Commits {
		if id != c.ID {
			return &InvalidRepoShape{Detail: fmt.Sprintf("commit keyed %s but carries id %s", id, c.ID)}
		}
		for _, p := range c.Parents {
			if _, ok := a.Commits[p]; !ok {
				return &InvalidRepoShape{Detail: fmt.Sprintf("commit %s has unknown parent %s", id, p)}
			}
		}
	}
	for id := range referenced {
		if _, ok := a.Commits[id]; !ok {
			return &InvalidRepoShape{Detail: fmt.Sprintf("referenced commit %s does not exist", id)}
		}
	}

	// 2. every commit reachable from a branch/ref/remote-branch/head.
	reachable := map[ObjectID]bool{}
	var mark func(id ObjectID)
	mark = func(id ObjectID) {
		if id == "" || reachable[id] {
			return
		}
		reachable[id] = true
		c, ok := a.Commits[id]
		if !ok {
			return
		}
		for _, p := range c.Parents {
			mark(p)
		}
	}
	for id := range referenced {
		mark(id)
	}
	for id := range a.Commits {
		if !reachable[id] {
			return &InvalidRepoShape{Detail: fmt.Sprintf("commit %s is not reachable from any branch, ref, remote branch, or head", id)}
		}
	}

	// 3 & 4: change-set canonicalization and deletion legality, first-parent chain only.
	for id, c := range a.Commits {
		if len(c.Parents) == 0 {
			// absolute state: anything goes, but deletions make no sense with no accumulation.
			for path, ce := range c.Changes {
				if ce.Kind == ChangeRemoved {
					return &InvalidRepoShape{Detail: fmt.Sprintf("commit %s deletes %q with no parent to delete from", id, path)}
				}
			}
			continue
		}
		accum := a.renderCommitUncached(c.Parents[0])
		for path, ce := range c.Changes {
			prev, existed := accum[path]
			if ce.Kind == ChangeRemoved && !existed {
				return &InvalidRepoShape{Detail: fmt.Sprintf("commit %s deletes %q which did not exist along first parent", id, path)}
			}
			if existed && ce.Equal(prev) {
				return &InvalidRepoShape{Detail: fmt.Sprintf("commit %s duplicates unchanged first-parent entry at %q", id, path)}
			}
		}
	}

	// 5. index/workdir empty unless head set.
	if a.Head == "" {
		if len(a.Index) != 0 || len(a.Workdir) != 0 {
			return &InvalidRepoShape{Detail: "index/workdir must be empty when head is null"}
		}
	}

	// 6. current_branch names a branch; if head set, equals that branch's tip.
	if a.CurrentBranch != "" {
		b, ok := a.Branches[a.CurrentBranch]
		if !ok {
			return &InvalidRepoShape{Detail: fmt.Sprintf("current_branch %q names no branch", a.CurrentBranch)}
		}
		if a.Head != "" && a.Head != b.Tip {
			return &InvalidRepoShape{Detail: "head does not match current_branch's tip"}
		}
	}

	// 7. children keys == ChildPointer entries in render(head ∘ index).
	rendered := RenderIndex(a.Commits, a.Head, a.Index)
	wantChildren := map[string]bool{}
	for path, ce := range rendered {
		if ce.Kind == ChangeChildPointer {
			wantChildren[path] = true
		}
	}
	for path := range a.Children {
		if !wantChildren[path] {
			return &InvalidRepoShape{Detail: fmt.Sprintf("children[%q] has no matching child pointer in head∘index", path)}
		}
	}
	for path := range wantChildren {
		if _, ok := a.Children[path]; !ok {
			// materialization is optional (closed child) -- not an error.
			_ = path
		}
	}

	// 8. bare implies index/workdir/sequencer empty.
	if a.Bare {
		if len(a.Index) != 0 || len(a.Workdir) != 0 || a.Sequencer != nil {
			return &InvalidRepoShape{Detail: "bare repository must have empty index/workdir and no sequencer"}
		}
	}

	// 9. sparse requires workdir entries consistent with sparse patterns.
	if a.Sparse && len(a.SparsePatterns) > 0 {
		for path := range a.Workdir {
			if !matchesSparse(path, a.SparsePatterns) {
				return &InvalidRepoShape{Detail: fmt.Sprintf("workdir entry %q is outside sparse-checkout patterns", path)}
			}
		}
	}

	if err := a.Sequencer.validate(a.Commits); err != nil {
		return err
	}

	return nil
}

func matchesSparse(path string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := sparseMatch(p, path); ok {
			return true
		}
	}
	return false
}

// sparseMatch implements a cone-style prefix match: a pattern matches any
// path equal to it or nested under it.
func sparseMatch(pattern, path string) (bool, error) {
	if pattern == path {
		return true, nil
	}
	return len(path) > len(pattern) && path[:len(pattern)] == pattern && path[len(pattern)] == '/', nil
}

// ASTOverrides is the sparse set of field overrides Copy applies over a copy
// of the receiver. Nil fields are left as they are. A non-nil Index or
// Workdir replaces that field wholesale, so an empty map clears it; the other
// map fields (and Notes, per namespace) are merged key by key into the
// receiver's maps.
type ASTOverrides struct {
	Commits       map[ObjectID]*Commit
	Branches      map[string]Branch
	Refs          map[string]ObjectID
	Head          *ObjectID
	CurrentBranch *string
	Remotes       map[string]Remote
	Index         map[string]ChangeEntry
	Workdir       map[string][]byte
	Children      map[string]*AST
	Sequencer     **SequencerState
	Bare          *bool
	Notes         map[string]map[ObjectID][]byte
}

func cloneCommits(m map[ObjectID]*Commit) map[ObjectID]*Commit {
	out := make(map[ObjectID]*Commit, len(m))
	for k, v := range m {
		cp := *v
		cp.Changes = make(map[string]ChangeEntry, len(v.Changes))
		for p, ce := range v.Changes {
			cp.Changes[p] = ce
		}
		out[k] = &cp
	}
	return out
}

func (a *AST) Copy(o ASTOverrides) (*AST, error) {
	next := AST{
		Commits:        cloneCommits(a.Commits),
		Branches:       cloneMap(a.Branches),
		Refs:           cloneMap(a.Refs),
		Head:           a.Head,
		CurrentBranch:  a.CurrentBranch,
		Remotes:        cloneRemotes(a.Remotes),
		Index:          cloneMap(a.Index),
		Workdir:        cloneBytesMap(a.Workdir),
		Children:       cloneMap(a.Children),
		Sequencer:      a.Sequencer,
		Bare:           a.Bare,
		Sparse:         a.Sparse,
		SparsePatterns: append([]string{}, a.SparsePatterns...),
		Notes:          cloneNotes(a.Notes),
	}
	for id, c := range o.Commits {
		next.Commits[id] = c
	}
	for name, b := range o.Branches {
		next.Branches[name] = b
	}
	for name, id := range o.Refs {
		next.Refs[name] = id
	}
	if o.Head != nil {
		next.Head = *o.Head
	}
	if o.CurrentBranch != nil {
		next.CurrentBranch = *o.CurrentBranch
	}
	for name, r := range o.Remotes {
		next.Remotes[name] = r
	}
	if o.Index != nil {
		next.Index = cloneMap(o.Index)
	}
	if o.Workdir != nil {
		next.Workdir = cloneBytesMap(o.Workdir)
	}
	for path, child := range o.Children {
		next.Children[path] = child
	}
	if o.Sequencer != nil {
		next.Sequencer = *o.Sequencer
	}
	if o.Bare != nil {
		next.Bare = *o.Bare
	}
	for namespace, byCommit := range o.Notes {
		if next.Notes[namespace] == nil {
			next.Notes[namespace] = map[ObjectID][]byte{}
		}
		for id, data := range byCommit {
			next.Notes[namespace][id] = data
		}
	}
	return NewAST(next)
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBytesMap(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = append([]byte{}, v...)
	}
	return out
}

func cloneRemotes(m map[string]Remote) map[string]Remote {
	out := make(map[string]Remote, len(m))
	for k, v := range m {
		out[k] = Remote{URL: v.URL, Branches: cloneMap(v.Branches)}
	}
	return out
}

func cloneNotes(m map[string]map[ObjectID][]byte) map[string]map[ObjectID][]byte {
	out := make(map[string]map[ObjectID][]byte, len(m))
	for k, v := range m {
		out[k] = make(map[ObjectID][]byte, len(v))
		for id, b := range v {
			out[k][id] = append([]byte{}, b...)
		}
	}
	return out
}

// SortedPaths returns the keys of a change-set map in lexical order, used
// wherever spec.md calls for deterministic path-order processing.
func SortedPaths[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
