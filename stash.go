package multirepo

import "fmt"

// StashEntry is one meta-stash: an outer commit (never pointed at by any
// branch) whose tree overlays the outer head with each dirty child's own
// stash-commit pointer, plus the message recorded in the stash log
// (§4.K). ChildStashes is redundant with the outer commit's own
// ChildPointer changes but kept alongside for fast lookup during
// apply/pop.
type StashEntry struct {
	ID           ObjectID
	Message      string
	ChildStashes map[string]ObjectID // child path -> stash commit id in that child
}

const stashNotesRef = "stash"

// Stash implements §4.K's save direction: for every open child whose
// workdir/index differs from its own head, produce an inner stash commit
// (anchored so it survives even though no branch points to it), roll that
// up into one outer stash commit, append it to the outer meta-stash log,
// and return an AST with the outer and every touched child's dirty state
// cleared -- exactly what "the tree is now clean" means operationally.
func Stash(outer *AST, message string, includeUntracked bool) (*AST, *StashEntry, error) {
	childStashes := map[string]ObjectID{}
	newChildren := cloneMap(outer.Children)

	for path, child := range outer.Children {
		if child == nil {
			continue
		}
		delta := dirtyDelta(child, includeUntracked)
		if len(delta) == 0 {
			continue
		}
		id := newSyntheticID()
		stashCommit := &Commit{ID: id, Parents: []ObjectID{child.Head}, Changes: delta, Message: message}
		newCommits := cloneCommits(child.Commits)
		newCommits[id] = stashCommit
		newRefs := cloneMap(child.Refs)
		newRefs[AnchorRefName(id)] = id
		cleaned, err := child.Copy(ASTOverrides{Commits: newCommits, Refs: newRefs, Index: map[string]ChangeEntry{}, Workdir: map[string][]byte{}})
		if err != nil {
			return nil, nil, err
		}
		newChildren[path] = cleaned
		childStashes[path] = id
	}

	outerDelta := map[string]ChangeEntry{}
	for path := range outer.Index {
		// outer-level blob changes (not routed through a child) pass through
		// verbatim; child-pointer index entries are superseded by the
		// per-child stash pointer below.
		if ce := outer.Index[path]; ce.Kind != ChangeChildPointer {
			outerDelta[path] = ce
		}
	}
	for path, id := range childStashes {
		outerDelta[path] = ChildPointer(childURL(outer, path), id)
	}

	if len(outerDelta) == 0 {
		return outer, nil, nil // clean tree: stash is a no-op (property 8)
	}

	id := newSyntheticID()
	stashCommit := &Commit{ID: id, Parents: []ObjectID{outer.Head}, Changes: outerDelta, Message: message}
	newCommits := cloneCommits(outer.Commits)
	newCommits[id] = stashCommit
	newRefs := cloneMap(outer.Refs)
	newRefs[AnchorRefName(id)] = id

	cleanedOuter, err := outer.Copy(ASTOverrides{
		Commits:  newCommits,
		Refs:     newRefs,
		Children: newChildren,
		Index:    map[string]ChangeEntry{},
		Workdir:  map[string][]byte{},
		Notes:    map[string]map[ObjectID][]byte{stashNotesRef: {id: []byte(message)}},
	})
	if err != nil {
		return nil, nil, err
	}

	return cleanedOuter, &StashEntry{ID: id, Message: message, ChildStashes: childStashes}, nil
}

// PendingChanges exposes dirtyDelta for callers outside this package (the
// CLI's `commit` subcommand uses the same "current index∘workdir overlay
// relative to head" computation a stash snapshot does).
func PendingChanges(child *AST, includeUntracked bool) map[string]ChangeEntry {
	return dirtyDelta(child, includeUntracked)
}

// dirtyDelta is the change set a child's current index∘workdir overlay
// carries relative to its own head -- the same shape a stash commit's
// Changes field needs. Workdir-only (untracked) differences are included
// only when includeUntracked is set, matching the spec's "optionally
// including untracked files."
func dirtyDelta(child *AST, includeUntracked bool) map[string]ChangeEntry {
	head := RenderCommit(child.Commits, child.Head)
	current := child.Render()
	delta := diffFlat(head, current)
	if includeUntracked {
		for path, data := range child.Workdir {
			if _, tracked := current[path]; tracked {
				continue
			}
			delta[path] = Blob(data, false)
		}
	}
	return delta
}

// StashApply implements §4.K's restore direction: verify every child stash
// commit the entry names still exists, three-way apply it back into the
// child's current head (so a pop after the child has moved on reapplies
// cleanly or reports a conflict rather than silently discarding work), and
// restore the outer index to reflect any child whose head moved as a
// result. pop additionally removes the entry from the meta-stash log.
func StashApply(outer *AST, entry *StashEntry, pop bool) (*AST, error) {
	newChildren := cloneMap(outer.Children)
	outerIndex := cloneMap(outer.Index)

	for path, stashID := range entry.ChildStashes {
		child, ok := outer.Children[path]
		if !ok || child == nil {
			return nil, NewUserError("stash apply: child %q is not open", path)
		}
		stashCommit, ok := child.Commits[stashID]
		if !ok {
			return nil, NewUserError("stash apply: stash commit %s missing from child %q", stashID, path)
		}
		base := ""
		if len(stashCommit.Parents) > 0 {
			base = string(stashCommit.Parents[0])
		}
		ffHead, newCommit, conflicts, err := mergeRepoWithBase(child.Commits, ObjectID(base), child.Head, stashID, ModeNormal)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			idx := map[string]ChangeEntry{}
			for p, ce := range conflicts {
				idx[p] = ce
			}
			conflicted, err := child.Copy(ASTOverrides{Index: idx})
			if err != nil {
				return nil, err
			}
			newChildren[path] = conflicted
			failed, err := outer.Copy(ASTOverrides{Children: newChildren})
			if err != nil {
				return nil, err
			}
			return failed, &ConflictError{Paths: []string{fmt.Sprintf("%s/*", path)}}
		}
		if newCommit != nil {
			newID := newSyntheticID()
			newCommit.ID = newID
			newCommits := cloneCommits(child.Commits)
			newCommits[newID] = newCommit
			updated, err := child.Copy(ASTOverrides{Commits: newCommits, Index: map[string]ChangeEntry{}})
			if err != nil {
				return nil, err
			}
			newChildren[path] = updated
			outerIndex[path] = ChildPointer(childURL(outer, path), newID)
			continue
		}
		updated, err := child.Copy(ASTOverrides{Head: &ffHead, Index: map[string]ChangeEntry{}})
		if err != nil {
			return nil, err
		}
		newChildren[path] = updated
		if ffHead != child.Head {
			outerIndex[path] = ChildPointer(childURL(outer, path), ffHead)
		}
	}

	overrides := ASTOverrides{Children: newChildren, Index: outerIndex}
	next, err := outer.Copy(overrides)
	if err != nil {
		return nil, err
	}

	if pop {
		newNotes := cloneNotes(next.Notes)
		if m, ok := newNotes[stashNotesRef]; ok {
			delete(m, entry.ID)
		}
		next.Notes = newNotes
	}
	return next, nil
}
