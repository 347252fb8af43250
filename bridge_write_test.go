package multirepo

import (
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// writeAndReread writes every commit reachable from head into a fresh
// on-disk repository and reads it back, the same reachable-order-then-write
// shape the CLI's persistence glue and the integration package's own
// persist helper use.
func writeAndReread(t *testing.T, commits map[ObjectID]*Commit, head ObjectID) *AST {
	t.Helper()
	dir := t.TempDir()
	// Bare: a fresh PlainInit has no index on disk, and flattenIndex/diffFlat
	// would otherwise read that as "every head path removed" -- a worktree
	// artifact this test has no interest in exercising.
	repo, err := git.PlainInit(dir, true)
	require.NoError(t, err)

	headRef, err := repo.Reference(plumbing.HEAD, false)
	require.NoError(t, err)
	branch := headRef.Target().Short()

	var order []ObjectID
	seen := map[ObjectID]bool{}
	var walk func(id ObjectID)
	walk = func(id ObjectID) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		c, ok := commits[id]
		if !ok {
			return
		}
		for _, p := range c.Parents {
			walk(p)
		}
		order = append(order, id)
	}
	walk(head)

	written, err := WriteCommits(repo, commits, order)
	require.NoError(t, err)
	require.NoError(t, UpdateRef(repo, branch, written[head]))

	reread, err := ReadAST(dir)
	require.NoError(t, err)
	return reread
}

// fakeHash produces a plausible-looking, fixed-length git object id for a
// ChildPointer fixture -- the write path never dereferences it, only
// records it in the gitlink tree entry.
func fakeHash(b byte) ObjectID {
	h := make([]byte, 40)
	for i := range h {
		h[i] = b
	}
	return ObjectID(h)
}

// TestWriteCommitsSynthesizesDeclarationFile covers the §4.B bijection
// contract: a child pointer committed with a URL must come back out of
// DeclaredChildren after a full write-then-read round trip, because a
// gitlink tree entry alone has nowhere to store it.
func TestWriteCommitsSynthesizesDeclarationFile(t *testing.T) {
	first := &Commit{
		ID: "first",
		Changes: map[string]ChangeEntry{
			"lib": ChildPointer("https://example.com/lib.git", fakeHash('a')),
		},
		Message:   "declare lib",
		Author:    "Test <test@test.com>",
		Committer: "Test <test@test.com>",
	}
	commits := map[ObjectID]*Commit{"first": first}

	reread := writeAndReread(t, commits, "first")

	declared := DeclaredChildren(reread)
	require.Len(t, declared, 1)
	require.Equal(t, "lib", declared[0].Path)
	require.Equal(t, "https://example.com/lib.git", declared[0].URL)
}

// TestWriteCommitsCarriesDeclarationForwardUntouched covers the case the
// bug actually hid in: a second commit that never re-touches the child
// pointer still renders with the first commit's declared URL, because
// bridge_read's gitlink entries always come back with URL=="" and rely
// entirely on the carried-forward `.multirepo` blob.
func TestWriteCommitsCarriesDeclarationForwardUntouched(t *testing.T) {
	first := &Commit{
		ID: "first",
		Changes: map[string]ChangeEntry{
			"lib": ChildPointer("https://example.com/lib.git", fakeHash('a')),
		},
		Message:   "declare lib",
		Author:    "Test <test@test.com>",
		Committer: "Test <test@test.com>",
	}
	second := &Commit{
		ID:      "second",
		Parents: []ObjectID{"first"},
		Changes: map[string]ChangeEntry{
			"README.md": Blob([]byte("hello\n"), false),
		},
		Message:   "add readme",
		Author:    "Test <test@test.com>",
		Committer: "Test <test@test.com>",
	}
	commits := map[ObjectID]*Commit{"first": first, "second": second}

	reread := writeAndReread(t, commits, "second")

	declared := DeclaredChildren(reread)
	require.Len(t, declared, 1)
	require.Equal(t, "lib", declared[0].Path)
	require.Equal(t, "https://example.com/lib.git", declared[0].URL)

	rendered := reread.Render()
	ce, ok := rendered["lib"]
	require.True(t, ok)
	require.Equal(t, ChangeChildPointer, ce.Kind)
}

// TestReadWriteRoundTripIsStable feeds a once-round-tripped AST back
// through a second write/read cycle and diffs the two renders with go-cmp:
// a stable bridge must converge, not drift, on repeated persistence.
func TestReadWriteRoundTripIsStable(t *testing.T) {
	first := &Commit{
		ID: "first",
		Changes: map[string]ChangeEntry{
			"lib":       ChildPointer("https://example.com/lib.git", fakeHash('a')),
			"README.md": Blob([]byte("hello\n"), false),
		},
		Message:   "initial",
		Author:    "Test <test@test.com>",
		Committer: "Test <test@test.com>",
	}
	commits := map[ObjectID]*Commit{"first": first}

	once := writeAndReread(t, commits, "first")
	renderedOnce := once.Render()

	twice := writeAndReread(t, once.Commits, once.Head)
	renderedTwice := twice.Render()

	if diff := cmp.Diff(renderedOnce, renderedTwice); diff != "" {
		t.Fatalf("render drifted across a second write/read cycle (-once +twice):\n%s", diff)
	}
}
