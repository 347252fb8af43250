package multirepo

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// OrchestratorPhase is the state machine described in §4.H:
//
//	Idle -> Planning -> Integrating -> (Conflicted | Finalizing) -> Idle
type OrchestratorPhase int

const (
	PhaseIdle OrchestratorPhase = iota
	PhasePlanning
	PhaseIntegrating
	PhaseConflicted
	PhaseFinalizing
)

// Orchestrator drives merge/cherry-pick/rebase across an outer repository
// and its open children. It generalizes the teacher's AtomicOp (a single
// in-memory rollback stack) into a SequencerState-carrying state machine:
// the record of "how far we got" is carried on the returned AST instead of
// living only in a deferred closure. Nothing writes that SequencerState to
// disk or reads it back, so it does not outlive the process.
type Orchestrator struct {
	registry *Registry
	log      *logrus.Entry
	Phase    OrchestratorPhase
}

// NewOrchestrator creates an Orchestrator bound to a Registry for opening
// any child a cross-repo step needs.
func NewOrchestrator(registry *Registry) *Orchestrator {
	return &Orchestrator{registry: registry, log: logrus.WithField("component", "orchestrator"), Phase: PhaseIdle}
}

// Operation is the tagged-variant-over-interface replacement for the
// source's dynamic dispatch over command modules (§9 design notes): the
// Orchestrator selects between implementations by calling Execute, rather
// than switching on a string or dispatching through a registry of command
// objects.
type Operation interface {
	Kind() SequencerKind
	Execute(ctx context.Context, o *Orchestrator, outer *AST) (*AST, error)
}

// Run is the single entry point every CLI subcommand in §6 (merge,
// cherry-pick, rebase) funnels through. It enforces the precondition check
// (refuse on dirty tree / in-progress sequencer), transitions through
// Planning/Integrating, and on a ConflictError converts the phase to
// Conflicted without treating it as a fatal error -- the returned AST
// carries the SequencerState alongside the ConflictError.
func (o *Orchestrator) Run(ctx context.Context, op Operation, outer *AST) (*AST, error) {
	if err := EnsureCleanAndConsistent(outer); err != nil {
		return nil, err
	}
	o.Phase = PhasePlanning
	o.log.WithField("kind", op.Kind()).Info("planning")

	o.Phase = PhaseIntegrating
	result, err := op.Execute(ctx, o, outer)
	if err != nil {
		if _, ok := AsConflict(err); ok {
			o.Phase = PhaseConflicted
			o.log.WithField("kind", op.Kind()).Warn("conflicted")
			return result, err
		}
		o.Phase = PhaseIdle
		return nil, err
	}
	o.Phase = PhaseFinalizing
	o.log.WithField("kind", op.Kind()).Info("finalized")
	o.Phase = PhaseIdle
	return result, nil
}

// Abort deletes the sequencer state, resets the outer head to original_head
// and clears the outer index and worktree. Materialized children are not
// restored: each keeps whatever head the in-progress operation left it at.
func (o *Orchestrator) Abort(outer *AST) (*AST, error) {
	if outer.Sequencer == nil {
		return nil, ErrNoSequencer
	}
	orig := outer.Sequencer.OriginalHead.Commit
	next, err := outer.Copy(ASTOverrides{
		Head:      &orig,
		Index:     map[string]ChangeEntry{},
		Workdir:   map[string][]byte{},
		Sequencer: nilSequencer(),
	})
	if err != nil {
		return nil, err
	}
	o.Phase = PhaseIdle
	return next, nil
}

func nilSequencer() **SequencerState {
	var p *SequencerState
	return &p
}

// unionPaths returns the sorted union of keys across any number of
// path -> ChangeEntry maps.
func unionPaths(maps ...map[string]ChangeEntry) []string {
	seen := map[string]bool{}
	for _, m := range maps {
		for p := range m {
			seen[p] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// resolveEntry implements the per-path three-way resolution rule used by
// mergeRepoWithBase and by the outer merge's per-path dispatch in mergeOp:
// unchanged-on-one-side takes the other side; changed
// identically on both sides takes that value; changed differently is a
// conflict.
func resolveEntry(base ChangeEntry, baseOK bool, ours ChangeEntry, oursOK bool, theirs ChangeEntry, theirsOK bool) (ChangeEntry, bool) {
	oursChanged := !sameEntry(baseOK, base, oursOK, ours)
	theirsChanged := !sameEntry(baseOK, base, theirsOK, theirs)
	switch {
	case !oursChanged && !theirsChanged:
		if oursOK {
			return ours, false
		}
		return Removed(), false
	case oursChanged && !theirsChanged:
		if oursOK {
			return ours, false
		}
		return Removed(), false
	case !oursChanged && theirsChanged:
		if theirsOK {
			return theirs, false
		}
		return Removed(), false
	default:
		if sameEntry(oursOK, ours, theirsOK, theirs) {
			if oursOK {
				return ours, false
			}
			return Removed(), false
		}
		ancRef := ChangeEntryRef{}
		if baseOK {
			ancRef = entryToRef(base)
		}
		oursRef := ChangeEntryRef{}
		if oursOK {
			oursRef = entryToRef(ours)
		}
		theirsRef := ChangeEntryRef{}
		if theirsOK {
			theirsRef = entryToRef(theirs)
		}
		return Conflict(ancRef, oursRef, theirsRef), true
	}
}

// mergeRepoWithBase performs a single-repository three-way merge of
// theirHead into ourHead using an explicit merge base (rather than computing
// one), which is what lets this same function serve both Merge (base =
// MergeBase(ours, theirs)) and the cherry-pick/rebase step (base = the
// commit's own first-parent pointer value, known exactly from the commit
// being replayed).
func mergeRepoWithBase(commits map[ObjectID]*Commit, base, ourHead, theirHead ObjectID, mode MergeMode) (ffHead ObjectID, newCommit *Commit, conflicts map[string]ChangeEntry, err error) {
	if ourHead == theirHead {
		return ourHead, nil, nil, nil
	}
	if ourHead != "" && IsAncestor(commits, ourHead, theirHead) {
		return theirHead, nil, nil, nil
	}
	if theirHead != "" && IsAncestor(commits, theirHead, ourHead) {
		return ourHead, nil, nil, nil
	}
	if mode == ModeFFOnly {
		return "", nil, nil, ErrFastForwardOnly
	}

	baseTree := RenderCommit(commits, base)
	oursTree := RenderCommit(commits, ourHead)
	theirsTree := RenderCommit(commits, theirHead)

	changes := map[string]ChangeEntry{}
	conflicts = map[string]ChangeEntry{}
	for _, path := range unionPaths(baseTree, oursTree, theirsTree) {
		bCE, bOK := baseTree[path]
		oCE, oOK := oursTree[path]
		tCE, tOK := theirsTree[path]
		entry, isConflict := resolveEntry(bCE, bOK, oCE, oOK, tCE, tOK)
		if isConflict {
			conflicts[path] = entry
			continue
		}
		if sameEntry(oOK, oCE, entry.Kind != ChangeRemoved, entry) {
			continue
		}
		changes[path] = entry
	}
	if len(conflicts) > 0 {
		return "", nil, conflicts, nil
	}
	return "", &Commit{Parents: []ObjectID{ourHead, theirHead}, Changes: changes}, nil, nil
}

// mergeChildPointer resolves a single outer path where both sides hold a
// ChildPointer to the same URL but a different commit, by recursively
// three-way-merging the child's own commit graph. On success it replaces
// outer.Children[path] with a copy of the child advanced to the merged head
// (carrying the new commit if one was created) and returns the outer-level
// ChangeEntry to record (absent if the
// value is unchanged from ours). On conflict it returns the conflicting
// inner paths, prefixed with the outer path, ready to merge into the outer
// index.
func mergeChildPointer(outer *AST, path string, baseSHA, ourSHA, theirSHA ObjectID, mode MergeMode) (entry *ChangeEntry, conflicts map[string]ChangeEntry, err error) {
	child, ok := outer.Children[path]
	if !ok || child == nil {
		return nil, nil, NewUserError("child %q must be open to merge across it", path)
	}
	base := baseSHA
	if base == "" {
		base = MergeBase(child.Commits, ourSHA, theirSHA)
	}
	ffHead, newCommit, childConflicts, err := mergeRepoWithBase(child.Commits, base, ourSHA, theirSHA, mode)
	if err != nil {
		return nil, nil, err
	}
	if len(childConflicts) > 0 {
		conflicts = map[string]ChangeEntry{}
		for inner, ce := range childConflicts {
			conflicts[path+"/"+inner] = ce
		}
		return nil, conflicts, nil
	}
	if newCommit != nil {
		id := newSyntheticID()
		newCommit.ID = id
		newCommits := cloneCommits(child.Commits)
		newCommits[id] = newCommit
		newChild, err := child.Copy(ASTOverrides{Commits: newCommits, Head: &id})
		if err != nil {
			return nil, nil, err
		}
		outer.Children[path] = newChild
		ce := ChildPointer(childURL(outer, path), id)
		return &ce, nil, nil
	}
	newChild, err := child.Copy(ASTOverrides{Head: &ffHead})
	if err != nil {
		return nil, nil, err
	}
	outer.Children[path] = newChild
	if ffHead == ourSHA {
		return nil, nil, nil
	}
	ce := ChildPointer(childURL(outer, path), ffHead)
	return &ce, nil, nil
}

func childURL(outer *AST, path string) string {
	for _, d := range DeclaredChildren(outer) {
		if d.Path == path {
			return d.URL
		}
	}
	return ""
}

func sortedConflictPaths(m map[string]ChangeEntry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mergeOp implements Operation for the merge verb.
type mergeOp struct {
	TheirCommit ObjectID
	Mode        MergeMode
}

// NewMergeOperation builds the Operation the CLI's `merge` subcommand hands
// to Orchestrator.Run.
func NewMergeOperation(theirCommit ObjectID, mode MergeMode) Operation {
	return mergeOp{TheirCommit: theirCommit, Mode: mode}
}

func (mergeOp) Kind() SequencerKind { return SequencerMerge }

func (m mergeOp) Execute(ctx context.Context, o *Orchestrator, outer *AST) (*AST, error) {
	ourHead := outer.Head
	theirs := m.TheirCommit

	if IsAncestor(outer.Commits, ourHead, theirs) {
		return fastForwardOuter(outer, theirs)
	}
	if IsAncestor(outer.Commits, theirs, ourHead) {
		return outer, nil
	}
	if m.Mode == ModeFFOnly {
		return nil, fmt.Errorf("%w", ErrFastForwardOnly)
	}

	base := MergeBase(outer.Commits, ourHead, theirs)
	baseTree := RenderCommit(outer.Commits, base)
	oursTree := RenderCommit(outer.Commits, ourHead)
	theirsTree := RenderCommit(outer.Commits, theirs)

	changes := map[string]ChangeEntry{}
	conflicts := map[string]ChangeEntry{}

	for _, path := range unionPaths(baseTree, oursTree, theirsTree) {
		bCE, bOK := baseTree[path]
		oCE, oOK := oursTree[path]
		tCE, tOK := theirsTree[path]

		if oOK && tOK && oCE.Kind == ChangeChildPointer && tCE.Kind == ChangeChildPointer && oCE.URL == tCE.URL && oCE.CommitID != tCE.CommitID {
			var baseSHA ObjectID
			if bOK && bCE.Kind == ChangeChildPointer {
				baseSHA = bCE.CommitID
			}
			entry, childConflicts, err := mergeChildPointer(outer, path, baseSHA, oCE.CommitID, tCE.CommitID, m.Mode)
			if err != nil {
				return nil, err
			}
			if len(childConflicts) > 0 {
				for p, ce := range childConflicts {
					conflicts[p] = ce
				}
				continue
			}
			if entry != nil {
				changes[path] = *entry
			}
			continue
		}

		entry, isConflict := resolveEntry(bCE, bOK, oCE, oOK, tCE, tOK)
		if isConflict {
			conflicts[path] = entry
			continue
		}
		if sameEntry(oOK, oCE, entry.Kind != ChangeRemoved, entry) {
			continue
		}
		changes[path] = entry
	}

	if len(conflicts) > 0 {
		seq := &SequencerState{
			Kind:         SequencerMerge,
			OriginalHead: RefPair{Commit: ourHead},
			Target:       RefPair{Commit: theirs},
			Commits:      []ObjectID{theirs},
			CurrentIndex: 0,
		}
		next, err := outer.Copy(ASTOverrides{Index: conflicts, Sequencer: &seq})
		if err != nil {
			return nil, err
		}
		return next, &ConflictError{Paths: sortedConflictPaths(conflicts)}
	}

	id := newSyntheticID()
	commit := &Commit{ID: id, Parents: []ObjectID{ourHead, theirs}, Changes: changes, Message: "Merge " + string(theirs)}
	newCommits := cloneCommits(outer.Commits)
	newCommits[id] = commit

	overrides := ASTOverrides{Commits: newCommits, Head: &id}
	if outer.CurrentBranch != "" {
		newBranches := cloneMap(outer.Branches)
		b := newBranches[outer.CurrentBranch]
		b.Tip = id
		newBranches[outer.CurrentBranch] = b
		overrides.Branches = newBranches
	}
	return outer.Copy(overrides)
}

func fastForwardOuter(outer *AST, newHead ObjectID) (*AST, error) {
	overrides := ASTOverrides{Head: &newHead}
	if outer.CurrentBranch != "" {
		newBranches := cloneMap(outer.Branches)
		b := newBranches[outer.CurrentBranch]
		b.Tip = newHead
		newBranches[outer.CurrentBranch] = b
		overrides.Branches = newBranches
	}
	return outer.Copy(overrides)
}

// applyStep cherry-picks a single outer commit onto ontoHead: for every
// ChildPointer change in the commit, three-way-merges the child's old
// pointer value (the base, taken from the commit's own first parent) into
// the current child head, onto the commit's new pointer value. Other
// (blob) changes from the commit are copied through unchanged -- a
// cherry-pick never needs to merge blob-level content, since the commit
// already carries exactly the diff to apply.
func applyStep(outer *AST, commit *Commit, ontoHead ObjectID, mode MergeMode) (*Commit, map[string]ChangeEntry, error) {
	var parentTree map[string]ChangeEntry
	if len(commit.Parents) > 0 {
		parentTree = RenderCommit(outer.Commits, commit.Parents[0])
	} else {
		parentTree = map[string]ChangeEntry{}
	}

	changes := map[string]ChangeEntry{}
	conflicts := map[string]ChangeEntry{}

	for path, ce := range commit.Changes {
		if ce.Kind != ChangeChildPointer {
			changes[path] = ce
			continue
		}
		prior := parentTree[path]
		var baseSHA ObjectID
		if prior.Kind == ChangeChildPointer {
			baseSHA = prior.CommitID
		}

		child, ok := outer.Children[path]
		if !ok || child == nil {
			changes[path] = ce
			continue
		}
		entry, childConflicts, err := mergeChildPointer(outer, path, baseSHA, child.Head, ce.CommitID, mode)
		if err != nil {
			return nil, nil, err
		}
		if len(childConflicts) > 0 {
			for p, c := range childConflicts {
				conflicts[p] = c
			}
			continue
		}
		if entry != nil {
			changes[path] = *entry
		}
	}

	if len(conflicts) > 0 {
		return nil, conflicts, nil
	}

	onto := RenderCommit(outer.Commits, ontoHead)
	final := map[string]ChangeEntry{}
	for path, entry := range changes {
		if existing, ok := onto[path]; ok && existing.Equal(entry) {
			continue
		}
		final[path] = entry
	}
	return &Commit{Parents: []ObjectID{ontoHead}, Changes: final, Message: commit.Message, Author: commit.Author, Committer: commit.Committer}, nil, nil
}

// cherryPickOp implements Operation for the cherry-pick verb: commits are
// applied strictly in listed order; a conflict at index k leaves commits
// 0..k-1 already produced and records a sequencer with current_index = k.
type cherryPickOp struct {
	Commits []ObjectID
	Mode    MergeMode
}

// NewCherryPickOperation builds the Operation the CLI's `cherry-pick`
// subcommand hands to Orchestrator.Run.
func NewCherryPickOperation(commits []ObjectID, mode MergeMode) Operation {
	return cherryPickOp{Commits: commits, Mode: mode}
}

func (cherryPickOp) Kind() SequencerKind { return SequencerCherryPick }

func (c cherryPickOp) Execute(ctx context.Context, o *Orchestrator, outer *AST) (*AST, error) {
	current := outer
	head := outer.Head
	originalHead := outer.Head

	for i, id := range c.Commits {
		commit, ok := current.Commits[id]
		if !ok {
			return nil, &InvalidRepoShape{Detail: "cherry-pick: unknown commit " + string(id)}
		}
		newCommit, conflicts, err := applyStep(current, commit, head, c.Mode)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			seq := &SequencerState{
				Kind:         SequencerCherryPick,
				OriginalHead: RefPair{Commit: originalHead},
				Commits:      c.Commits,
				CurrentIndex: i,
			}
			next, err := current.Copy(ASTOverrides{Head: &head, Index: conflicts, Sequencer: &seq})
			if err != nil {
				return nil, err
			}
			return next, &ConflictError{Paths: sortedConflictPaths(conflicts)}
		}

		newID := newSyntheticID()
		newCommit.ID = newID
		newCommits := cloneCommits(current.Commits)
		newCommits[newID] = newCommit
		stepOverrides := ASTOverrides{Commits: newCommits, Head: &newID}
		if current.CurrentBranch != "" {
			stepBranches := cloneMap(current.Branches)
			b := stepBranches[current.CurrentBranch]
			b.Tip = newID
			stepBranches[current.CurrentBranch] = b
			stepOverrides.Branches = stepBranches
		}
		next, err := current.Copy(stepOverrides)
		if err != nil {
			return nil, err
		}
		current = next
		head = newID
	}

	overrides := ASTOverrides{Head: &head}
	if current.CurrentBranch != "" {
		newBranches := cloneMap(current.Branches)
		b := newBranches[current.CurrentBranch]
		b.Tip = head
		newBranches[current.CurrentBranch] = b
		overrides.Branches = newBranches
	}
	return current.Copy(overrides)
}

// rebaseOp implements Operation for the rebase verb: computes the linear
// list of commits from upstream..HEAD, cherry-picks each onto `onto`, and
// only moves the branch tip after the whole list is exhausted.
type rebaseOp struct {
	Upstream ObjectID
	Onto     ObjectID
	Mode     MergeMode
}

// NewRebaseOperation builds the Operation the CLI's `rebase` subcommand
// hands to Orchestrator.Run.
func NewRebaseOperation(upstream, onto ObjectID, mode MergeMode) Operation {
	return rebaseOp{Upstream: upstream, Onto: onto, Mode: mode}
}

func (rebaseOp) Kind() SequencerKind { return SequencerRebase }

func (r rebaseOp) Execute(ctx context.Context, o *Orchestrator, outer *AST) (*AST, error) {
	list := rebaseList(outer.Commits, r.Upstream, outer.Head)
	pick := cherryPickOp{Commits: list, Mode: r.Mode}

	// Replay detached so the branch tip only moves once the whole list is done.
	detached := ""
	working, err := outer.Copy(ASTOverrides{Head: &r.Onto, CurrentBranch: &detached})
	if err != nil {
		return nil, err
	}
	working.Children = outer.Children

	result, err := pick.Execute(ctx, o, working)
	if err != nil {
		if _, ok := AsConflict(err); ok {
			if result.Sequencer != nil {
				result.Sequencer.Kind = SequencerRebase
				result.Sequencer.OriginalHead = RefPair{Commit: outer.Head}
				result.Sequencer.Target = RefPair{Commit: r.Onto}
			}
		}
		return result, err
	}
	branch := outer.CurrentBranch
	if branch == "" {
		return result, nil
	}
	newBranches := cloneMap(result.Branches)
	b := newBranches[branch]
	b.Tip = result.Head
	newBranches[branch] = b
	return result.Copy(ASTOverrides{Branches: newBranches, CurrentBranch: &branch})
}

// rebaseList walks the first-parent chain from head back to (but excluding)
// upstream, returning commits oldest-first, the order §4.H's rebase
// description requires them replayed in.
func rebaseList(commits map[ObjectID]*Commit, upstream, head ObjectID) []ObjectID {
	var out []ObjectID
	cur := head
	for cur != "" && cur != upstream {
		out = append(out, cur)
		c, ok := commits[cur]
		if !ok || len(c.Parents) == 0 {
			break
		}
		cur = c.Parents[0]
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
