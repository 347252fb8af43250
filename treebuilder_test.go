package multirepo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyChangesEmptyChangeSetIsIdentity(t *testing.T) {
	parent := map[string]ChangeEntry{
		"a": Blob([]byte("1"), false),
		"b": Blob([]byte("2"), false),
	}
	out := ApplyChanges(parent, map[string]ChangeEntry{})
	require.Equal(t, parent, out)
}

func TestApplyChangesOverridesAndInserts(t *testing.T) {
	parent := map[string]ChangeEntry{"a": Blob([]byte("1"), false)}
	changes := map[string]ChangeEntry{
		"a": Blob([]byte("2"), false),
		"b": Blob([]byte("new"), false),
	}
	out := ApplyChanges(parent, changes)
	require.Equal(t, "2", string(out["a"].Blob))
	require.Equal(t, "new", string(out["b"].Blob))
}

func TestApplyChangesRemovedEntryIsOmitted(t *testing.T) {
	parent := map[string]ChangeEntry{
		"a": Blob([]byte("1"), false),
		"b": Blob([]byte("2"), false),
	}
	out := ApplyChanges(parent, map[string]ChangeEntry{"a": Removed()})
	_, ok := out["a"]
	require.False(t, ok)
	require.Contains(t, out, "b")
}

func TestComponentOfSplitsOnFirstSlash(t *testing.T) {
	head, rest := componentOf("x/y/z")
	require.Equal(t, "x", head)
	require.Equal(t, "y/z", rest)
}

func TestComponentOfNoSlashReturnsWholePathAsHead(t *testing.T) {
	head, rest := componentOf("leaf")
	require.Equal(t, "leaf", head)
	require.Equal(t, "", rest)
}

func TestGroupByComponentGroupsNestedAndTopLevel(t *testing.T) {
	changes := map[string]ChangeEntry{
		"README.md": Blob([]byte("hi"), false),
		"x/y/z":     Blob([]byte("meh"), false),
		"x/q":       Blob([]byte("other"), false),
	}
	groups := GroupByComponent(changes)
	require.Contains(t, groups, "README.md")
	require.Contains(t, groups["README.md"], "")

	require.Contains(t, groups, "x")
	require.Contains(t, groups["x"], "y/z")
	require.Contains(t, groups["x"], "q")
}

func TestBuildTreeEmptyChangesReturnsParentUnchanged(t *testing.T) {
	parent := map[string]ChangeEntry{"a": Blob([]byte("1"), false)}
	out := BuildTree(parent, map[string]ChangeEntry{})
	require.Equal(t, parent, out)
}

func TestBuildTreeAppliesChanges(t *testing.T) {
	parent := map[string]ChangeEntry{"a": Blob([]byte("1"), false)}
	out := BuildTree(parent, map[string]ChangeEntry{"a": Removed(), "b": Blob([]byte("2"), false)})
	_, ok := out["a"]
	require.False(t, ok)
	require.Equal(t, "2", string(out["b"].Blob))
}
