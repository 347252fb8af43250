package multirepo

// RenderCommit accumulates the first-parent chain from root to id, producing
// the full path -> ChangeEntry state at that commit. It is a pure function
// of the commit map and is memoizable by commit id.
func RenderCommit(commits map[ObjectID]*Commit, id ObjectID) map[string]ChangeEntry {
	return renderCommit(commits, id, map[ObjectID]map[string]ChangeEntry{})
}

func renderCommit(commits map[ObjectID]*Commit, id ObjectID, memo map[ObjectID]map[string]ChangeEntry) map[string]ChangeEntry {
	if id == "" {
		return map[string]ChangeEntry{}
	}
	if cached, ok := memo[id]; ok {
		return cached
	}
	c, ok := commits[id]
	if !ok {
		return map[string]ChangeEntry{}
	}
	var base map[string]ChangeEntry
	if len(c.Parents) == 0 {
		base = map[string]ChangeEntry{}
	} else {
		parent := renderCommit(commits, c.Parents[0], memo)
		base = make(map[string]ChangeEntry, len(parent))
		for k, v := range parent {
			base[k] = v
		}
	}
	for path, ce := range c.Changes {
		if ce.Kind == ChangeRemoved {
			delete(base, path)
			continue
		}
		base[path] = ce
	}
	memo[id] = base
	return base
}

// renderCommitUncached is the AST method form used internally (e.g. during
// construction validation), backed by the AST's own memo cache.
func (a *AST) renderCommitUncached(id ObjectID) map[string]ChangeEntry {
	if a.renderCache == nil {
		a.renderCache = map[ObjectID]map[string]ChangeEntry{}
	}
	return renderCommit(a.Commits, id, a.renderCache)
}

// RenderIndex renders head and overlays the index changes on top of it.
// Conflict entries project to their "ours" side for rendering, since the
// rendered view represents what the worktree would materialize.
func RenderIndex(commits map[ObjectID]*Commit, head ObjectID, index map[string]ChangeEntry) map[string]ChangeEntry {
	base := RenderCommit(commits, head)
	out := make(map[string]ChangeEntry, len(base)+len(index))
	for k, v := range base {
		out[k] = v
	}
	for path, ce := range index {
		if ce.Kind == ChangeRemoved {
			delete(out, path)
			continue
		}
		if ce.Kind == ChangeConflict {
			if ce.Ours.Present {
				if ce.Ours.IsChild {
					out[path] = ChildPointer(ce.Ours.ChildURL, ce.Ours.ChildID)
				} else {
					out[path] = Blob(ce.Ours.Blob, false)
				}
			} else {
				delete(out, path)
			}
			continue
		}
		out[path] = ce
	}
	return out
}

// Render renders this AST's head∘index view, the canonical "current state"
// used by the Status Engine and Registry.
func (a *AST) Render() map[string]ChangeEntry {
	return RenderIndex(a.Commits, a.Head, a.Index)
}

// IsAncestor reports whether ancestor is id or a first-parent-or-merge-
// reachable ancestor of id, walking all parents (not just first-parent),
// since ancestry for status/fast-forward purposes must see merge parents.
func IsAncestor(commits map[ObjectID]*Commit, ancestor, id ObjectID) bool {
	if ancestor == id {
		return true
	}
	seen := map[ObjectID]bool{}
	var walk func(ObjectID) bool
	walk = func(cur ObjectID) bool {
		if cur == "" || seen[cur] {
			return false
		}
		seen[cur] = true
		c, ok := commits[cur]
		if !ok {
			return false
		}
		for _, p := range c.Parents {
			if p == ancestor {
				return true
			}
			if walk(p) {
				return true
			}
		}
		return false
	}
	return walk(id)
}
