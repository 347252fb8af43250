package multirepo

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ReadAST opens the repository at dir (bare or with a worktree) and
// materializes it into a value-semantics AST (§4.B, Bridge read direction).
// Physical git object ids become ObjectIDs verbatim -- the Bridge's only job
// on read is projecting the store's graph into the shape NewAST validates,
// not renaming anything.
func ReadAST(dir string) (*AST, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, NewStoreError("bridge.read.open", err)
	}
	return readASTFromRepo(repo)
}

func readASTFromRepo(repo *git.Repository) (*AST, error) {
	flattenMemo := map[plumbing.Hash]map[string]ChangeEntry{}
	commits := map[ObjectID]*Commit{}
	visited := map[plumbing.Hash]bool{}

	var ingest func(h plumbing.Hash) error
	ingest = func(h plumbing.Hash) error {
		if h.IsZero() || visited[h] {
			return nil
		}
		visited[h] = true
		co, err := repo.CommitObject(h)
		if err != nil {
			return NewStoreError("bridge.read.commit", err)
		}
		for _, p := range co.ParentHashes {
			if err := ingest(p); err != nil {
				return err
			}
		}

		tree, err := co.Tree()
		if err != nil {
			return NewStoreError("bridge.read.tree", err)
		}
		flat, err := flattenTree(repo, tree, flattenMemo)
		if err != nil {
			return err
		}

		var parentFlat map[string]ChangeEntry
		var parents []ObjectID
		for _, p := range co.ParentHashes {
			parents = append(parents, ObjectID(p.String()))
		}
		if len(parents) > 0 {
			parentFlat = flattenMemo[co.ParentHashes[0]]
		} else {
			parentFlat = map[string]ChangeEntry{}
		}

		changes := diffFlat(parentFlat, flat)
		commits[ObjectID(h.String())] = &Commit{
			ID:        ObjectID(h.String()),
			Parents:   parents,
			Changes:   changes,
			Message:   co.Message,
			Author:    formatSignature(co.Author),
			Committer: formatSignature(co.Committer),
		}
		return nil
	}

	refs, err := repo.References()
	if err != nil {
		return nil, NewStoreError("bridge.read.refs", err)
	}
	branches := map[string]Branch{}
	rawRefs := map[string]ObjectID{}
	remotes := map[string]Remote{}
	err = refs.ForEach(func(r *plumbing.Reference) error {
		if r.Type() != plumbing.HashReference {
			return nil
		}
		name := r.Name().String()
		if err := ingest(r.Hash()); err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(name, "refs/heads/"):
			branches[strings.TrimPrefix(name, "refs/heads/")] = Branch{Tip: ObjectID(r.Hash().String())}
		case strings.HasPrefix(name, "refs/remotes/"):
			rest := strings.TrimPrefix(name, "refs/remotes/")
			remoteName, branch, ok := strings.Cut(rest, "/")
			if !ok {
				return nil
			}
			rem, ok := remotes[remoteName]
			if !ok {
				rem = Remote{Branches: map[string]ObjectID{}}
			}
			rem.Branches[branch] = ObjectID(r.Hash().String())
			remotes[remoteName] = rem
		default:
			rawRefs[name] = ObjectID(r.Hash().String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for name, rem := range remotes {
		if cfg, err := repo.Remote(name); err == nil && len(cfg.Config().URLs) > 0 {
			rem.URL = cfg.Config().URLs[0]
			remotes[name] = rem
		}
	}

	var head ObjectID
	var currentBranch string
	if h, err := repo.Head(); err == nil {
		if err := ingest(h.Hash()); err != nil {
			return nil, err
		}
		head = ObjectID(h.Hash().String())
		if h.Name().IsBranch() {
			currentBranch = h.Name().Short()
		}
	}

	isBare, err := repo.Config()
	bare := false
	if err == nil {
		bare = isBare.Core.IsBare
	}

	index := map[string]ChangeEntry{}
	workdir := map[string][]byte{}
	if !bare && head != "" {
		headFlat := flattenMemo[plumbing.NewHash(string(head))]
		idx, err := repo.Storer.Index()
		if err == nil {
			indexFlat, err := flattenIndex(repo, idx)
			if err != nil {
				return nil, err
			}
			index = diffFlat(headFlat, indexFlat)
		}

		wt, err := repo.Worktree()
		if err == nil {
			workdirFlat, err := readWorktreeFiles(wt.Filesystem, "")
			if err == nil {
				workdir = workdirFlat
			}
		}
	}

	return NewAST(AST{
		Commits:       commits,
		Branches:      branches,
		Refs:          rawRefs,
		Head:          head,
		CurrentBranch: currentBranch,
		Remotes:       remotes,
		Index:         index,
		Workdir:       workdir,
		Bare:          bare,
	})
}

func formatSignature(sig object.Signature) string {
	return fmt.Sprintf("%s <%s>", sig.Name, sig.Email)
}

// flattenTree recursively walks a tree (including submodule/gitlink entries,
// which object.Tree.Files alone skips) into a flat path -> ChangeEntry map,
// memoized by tree hash so a shared subtree is only walked once.
func flattenTree(repo *git.Repository, tree *object.Tree, memo map[plumbing.Hash]map[string]ChangeEntry) (map[string]ChangeEntry, error) {
	out := map[string]ChangeEntry{}
	for _, entry := range tree.Entries {
		switch entry.Mode {
		case filemode.Dir:
			sub, err := repo.TreeObject(entry.Hash)
			if err != nil {
				return nil, NewStoreError("bridge.read.subtree", err)
			}
			subFlat, err := flattenTree(repo, sub, memo)
			if err != nil {
				return nil, err
			}
			for p, ce := range subFlat {
				out[path.Join(entry.Name, p)] = ce
			}
		case filemode.Submodule:
			// A gitlink tree entry; the child's declared URL lives in the
			// `.multirepo` declaration blob, not in the tree itself, so the
			// pointer keeps an empty URL; DeclaredChildren reads the URL from
			// that blob.
			out[entry.Name] = ChildPointer("", ObjectID(entry.Hash.String()))
		default:
			blob, err := repo.BlobObject(entry.Hash)
			if err != nil {
				return nil, NewStoreError("bridge.read.blob", err)
			}
			data, err := readBlob(blob)
			if err != nil {
				return nil, err
			}
			out[entry.Name] = Blob(data, entry.Mode == filemode.Executable)
		}
	}
	return out, nil
}

func readBlob(blob *object.Blob) ([]byte, error) {
	r, err := blob.Reader()
	if err != nil {
		return nil, NewStoreError("bridge.read.blob.reader", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewStoreError("bridge.read.blob.read", err)
	}
	return data, nil
}

// flattenIndex reads the repository's staged entries (the git index,
// corresponding to our Index field before it is overlaid on head) into the
// same flat path -> ChangeEntry shape flattenTree produces, so the two can
// be diffed against head with one diffFlat call.
func flattenIndex(repo *git.Repository, idx *index.Index) (map[string]ChangeEntry, error) {
	out := map[string]ChangeEntry{}
	for _, e := range idx.Entries {
		blob, err := repo.BlobObject(e.Hash)
		if err != nil {
			return nil, NewStoreError("bridge.read.index.blob", err)
		}
		data, err := readBlob(blob)
		if err != nil {
			return nil, err
		}
		out[e.Name] = Blob(data, e.Mode == filemode.Executable)
	}
	return out, nil
}

// readWorktreeFiles walks a billy filesystem recursively (skipping .git),
// reading every regular file's content into the flat map Workdir expects.
func readWorktreeFiles(fs billy.Filesystem, dir string) (map[string][]byte, error) {
	out := map[string][]byte{}
	entries, err := fs.ReadDir(dir)
	if err != nil {
		if dir == "" {
			return out, nil
		}
		return nil, NewStoreError("bridge.read.workdir.readdir", err)
	}
	for _, info := range entries {
		name := info.Name()
		if name == ".git" {
			continue
		}
		full := path.Join(dir, name)
		if info.IsDir() {
			sub, err := readWorktreeFiles(fs, full)
			if err != nil {
				return nil, err
			}
			for p, b := range sub {
				out[p] = b
			}
			continue
		}
		f, err := fs.Open(full)
		if err != nil {
			return nil, NewStoreError("bridge.read.workdir.open", err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, NewStoreError("bridge.read.workdir.read", err)
		}
		out[full] = data
	}
	return out, nil
}

// diffFlat computes the sparse change set turning parent into current,
// satisfying the same canonicalization invariant NewAST enforces: only
// paths that actually differ appear, and a disappearing path becomes
// ChangeRemoved.
func diffFlat(parent, current map[string]ChangeEntry) map[string]ChangeEntry {
	changes := map[string]ChangeEntry{}
	for path, ce := range current {
		if prev, ok := parent[path]; ok && prev.Equal(ce) {
			continue
		}
		changes[path] = ce
	}
	for path := range parent {
		if _, ok := current[path]; !ok {
			changes[path] = Removed()
		}
	}
	return changes
}
