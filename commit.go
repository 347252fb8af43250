package multirepo

// CommitAll implements the `commit` CLI verb: for every open child whose
// index∘workdir overlay differs from its own head, record a real commit
// advancing that child's branch tip, then record one outer commit whose
// change set carries any outer-level blob changes plus an updated
// ChildPointer for every child that moved. It is the non-synthetic
// counterpart of Stash -- the child and outer commits it produces are
// ordinary history, reachable from CurrentBranch, not anchor-only.
//
// Returns the unchanged AST with a *UserError if neither the outer tree nor
// any open child has anything pending.
func CommitAll(outer *AST, message, author string, includeUntracked bool) (*AST, error) {
	newChildren := cloneMap(outer.Children)
	movedChildren := map[string]ObjectID{}

	for path, child := range outer.Children {
		if child == nil {
			continue
		}
		delta := PendingChanges(child, includeUntracked)
		if len(delta) == 0 {
			continue
		}
		id := newSyntheticID()
		newCommits := cloneCommits(child.Commits)
		newCommits[id] = &Commit{ID: id, Parents: []ObjectID{child.Head}, Changes: delta, Message: message, Author: author, Committer: author}
		childOverrides := ASTOverrides{Commits: newCommits, Head: &id, Index: map[string]ChangeEntry{}, Workdir: map[string][]byte{}}
		if child.CurrentBranch != "" {
			childBranches := cloneMap(child.Branches)
			b := childBranches[child.CurrentBranch]
			b.Tip = id
			childBranches[child.CurrentBranch] = b
			childOverrides.Branches = childBranches
		}
		updated, err := child.Copy(childOverrides)
		if err != nil {
			return nil, err
		}
		newChildren[path] = updated
		movedChildren[path] = id
	}

	outerDelta := map[string]ChangeEntry{}
	for path, ce := range outer.Index {
		if ce.Kind != ChangeChildPointer {
			outerDelta[path] = ce
		}
	}
	if includeUntracked {
		rendered := outer.Render()
		for path, data := range outer.Workdir {
			if _, tracked := rendered[path]; tracked {
				continue
			}
			outerDelta[path] = Blob(data, false)
		}
	}
	for path, id := range movedChildren {
		outerDelta[path] = ChildPointer(childURL(outer, path), id)
	}

	if len(outerDelta) == 0 {
		return outer, NewUserError("nothing to commit, outer and child trees are clean")
	}

	id := newSyntheticID()
	newCommits := cloneCommits(outer.Commits)
	newCommits[id] = &Commit{ID: id, Parents: []ObjectID{outer.Head}, Changes: outerDelta, Message: message, Author: author, Committer: author}

	newBranches := cloneMap(outer.Branches)
	if outer.CurrentBranch != "" {
		b := newBranches[outer.CurrentBranch]
		b.Tip = id
		newBranches[outer.CurrentBranch] = b
	}

	return outer.Copy(ASTOverrides{
		Commits:  newCommits,
		Branches: newBranches,
		Children: newChildren,
		Head:     &id,
		Index:    map[string]ChangeEntry{},
		Workdir:  map[string][]byte{},
	})
}
