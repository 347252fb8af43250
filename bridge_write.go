package multirepo

import (
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// WriteCommits encodes every commit in order into repo's object store,
// skipping any id already present, and returns the logical id -> physical
// hash bijection for every id in order, both the ones it wrote and the ones
// already present (mapped to their existing hash) (§4.B write direction).
// order must
// list dependencies before dependents -- BuildPlan.ToWriteOrder() produces
// exactly that.
func WriteCommits(repo *git.Repository, commits map[ObjectID]*Commit, order []ObjectID) (map[ObjectID]plumbing.Hash, error) {
	written := map[ObjectID]plumbing.Hash{}
	for _, id := range order {
		if h := plumbing.NewHash(string(id)); !h.IsZero() {
			if _, err := repo.CommitObject(h); err == nil {
				written[id] = h
				continue
			}
		}
		c, ok := commits[id]
		if !ok {
			return nil, &InvalidRepoShape{Detail: "bridge.write: unknown commit " + string(id)}
		}

		var parentFlat map[string]ChangeEntry
		var parentHashes []plumbing.Hash
		if len(c.Parents) > 0 {
			parentFlat = RenderCommit(commits, c.Parents[0])
			for _, p := range c.Parents {
				ph, ok := written[p]
				if !ok {
					return nil, &InvalidRepoShape{Detail: "bridge.write: parent " + string(p) + " not yet written"}
				}
				parentHashes = append(parentHashes, ph)
			}
		} else {
			parentFlat = map[string]ChangeEntry{}
		}

		tree := withDeclarationFile(ApplyChanges(parentFlat, c.Changes))
		treeHash, err := writeGitTree(repo, tree)
		if err != nil {
			return nil, err
		}

		now := object.Signature{Name: "multirepo", When: time.Unix(0, 0)}
		co := object.Commit{
			Author:       signatureOrDefault(c.Author, now),
			Committer:    signatureOrDefault(c.Committer, now),
			Message:      c.Message,
			TreeHash:     treeHash,
			ParentHashes: parentHashes,
		}
		obj := repo.Storer.NewEncodedObject()
		if err := co.Encode(obj); err != nil {
			return nil, NewStoreError("bridge.write.commit.encode", err)
		}
		hash, err := repo.Storer.SetEncodedObject(obj)
		if err != nil {
			return nil, NewStoreError("bridge.write.commit.store", err)
		}
		written[id] = hash
	}
	return written, nil
}

func signatureOrDefault(s string, fallback object.Signature) object.Signature {
	if s == "" {
		return fallback
	}
	name, email, ok := strings.Cut(s, " <")
	if !ok {
		return object.Signature{Name: s, When: fallback.When}
	}
	return object.Signature{Name: name, Email: strings.TrimSuffix(email, ">"), When: fallback.When}
}

// withDeclarationFile synthesizes or refreshes the `.multirepo` declaration
// blob so it matches this tree's child pointers (§4.B write: "when any
// child pointer exists, synthesize the declaration file"). A gitlink tree
// entry alone has no room for a URL, so without this, read(write(A)) would
// silently drop every child URL that DeclaredChildren recovers from the
// blob. A child pointer carrying a fresh URL (CommitAll, a resolved merge,
// ...) wins; one rendered straight off a gitlink read from disk (URL=="",
// bridge_read.go's flattenTree) falls back to whatever the inherited
// declaration blob already said for that path.
func withDeclarationFile(flat map[string]ChangeEntry) map[string]ChangeEntry {
	var childPaths []string
	for p, ce := range flat {
		if ce.Kind == ChangeChildPointer {
			childPaths = append(childPaths, p)
		}
	}
	if len(childPaths) == 0 {
		return flat
	}
	sort.Strings(childPaths)

	existing := map[string]string{}
	if decl, ok := flat[".multirepo"]; ok && decl.Kind == ChangeBlob {
		if parsed, err := ParseDeclarationFile(decl.Blob); err == nil {
			for _, c := range parsed {
				existing[c.Path] = c.URL
			}
		}
	}

	declared := make([]DeclaredChild, 0, len(childPaths))
	for _, p := range childPaths {
		url := flat[p].URL
		if url == "" {
			url = existing[p]
		}
		declared = append(declared, DeclaredChild{Path: p, URL: url})
	}

	out := make(map[string]ChangeEntry, len(flat)+1)
	for k, v := range flat {
		out[k] = v
	}
	out[".multirepo"] = Blob(FormatDeclarationFile(declared), false)
	return out
}

// writeGitTree turns a flat path -> ChangeEntry map into a (possibly nested)
// go-git tree object, recursively grouping by top-level path component --
// the write-side mirror of flattenTree's read-side recursion. A
// ChangeChildPointer entry is written as a submodule (gitlink) tree entry,
// matching how a real git submodule commit pointer is stored, so a plain
// `git` client reading the result sees an ordinary gitlink rather than a
// multirepo-specific encoding.
func writeGitTree(repo *git.Repository, flat map[string]ChangeEntry) (plumbing.Hash, error) {
	groups := map[string]map[string]ChangeEntry{}
	for p, ce := range flat {
		head, rest := componentOf(p)
		if groups[head] == nil {
			groups[head] = map[string]ChangeEntry{}
		}
		groups[head][rest] = ce
	}

	var names []string
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var entries []object.TreeEntry
	for _, name := range names {
		sub := groups[name]
		if ce, ok := sub[""]; ok && len(sub) == 1 {
			entry, err := leafTreeEntry(repo, name, ce)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			entries = append(entries, entry)
			continue
		}
		delete(sub, "")
		subHash, err := writeGitTree(repo, sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: subHash})
	}

	tree := object.Tree{Entries: entries}
	obj := repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, NewStoreError("bridge.write.tree.encode", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, NewStoreError("bridge.write.tree.store", err)
	}
	return hash, nil
}

func leafTreeEntry(repo *git.Repository, name string, ce ChangeEntry) (object.TreeEntry, error) {
	switch ce.Kind {
	case ChangeChildPointer:
		return object.TreeEntry{Name: name, Mode: filemode.Submodule, Hash: plumbing.NewHash(string(ce.CommitID))}, nil
	case ChangeBlob:
		obj := repo.Storer.NewEncodedObject()
		obj.SetType(plumbing.BlobObject)
		w, err := obj.Writer()
		if err != nil {
			return object.TreeEntry{}, NewStoreError("bridge.write.blob.writer", err)
		}
		if _, err := w.Write(ce.Blob); err != nil {
			w.Close()
			return object.TreeEntry{}, NewStoreError("bridge.write.blob.write", err)
		}
		if err := w.Close(); err != nil {
			return object.TreeEntry{}, NewStoreError("bridge.write.blob.close", err)
		}
		hash, err := repo.Storer.SetEncodedObject(obj)
		if err != nil {
			return object.TreeEntry{}, NewStoreError("bridge.write.blob.store", err)
		}
		mode := filemode.Regular
		if ce.Executable {
			mode = filemode.Executable
		}
		return object.TreeEntry{Name: name, Mode: mode, Hash: hash}, nil
	default:
		return object.TreeEntry{}, &InvalidRepoShape{Detail: "bridge.write: unexpected leaf kind for " + name}
	}
}

// UpdateRef points a branch ref at its new tip, the final step of
// publishing a finalized merge/cherry-pick/rebase result (§4.H's
// "finalizing" phase, before the synthetic-anchor publish step in
// publish.go runs over it).
func UpdateRef(repo *git.Repository, branch string, hash plumbing.Hash) error {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), hash)
	if err := repo.Storer.SetReference(ref); err != nil {
		return NewStoreError("bridge.write.ref", err)
	}
	return nil
}
