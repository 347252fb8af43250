package multirepo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeStatusReportsSameRelationWhenClean(t *testing.T) {
	outer, err := ParseShorthand("S:C1 s=Slib:1;Bmain=1;Os")
	require.NoError(t, err)

	st := ComputeStatus(outer)
	require.Equal(t, ObjectID("1"), st.Head)
	cs, ok := st.Children["s"]
	require.True(t, ok)
	require.True(t, cs.Open)
	require.NotNil(t, cs.CommitPointer)
	require.Equal(t, ObjectID("1"), cs.CommitPointer.SHA)
	require.NotNil(t, cs.IndexPointer)
	require.Equal(t, RelationSame, cs.IndexPointer.Relation)
}

func TestComputeStatusDetectsIndexAheadChild(t *testing.T) {
	outer, err := ParseShorthand("S:C1 s=Slib:1;C2-1 s=Slib:2;Bmain=1;Bother=2;Is=Slib:2")
	require.NoError(t, err)
	// Put the outer head back at 1 but stage an index pointer at 2, so the
	// child pointer is Ahead in the index relative to the commit.
	headBack := ObjectID("1")
	outer, err = outer.Copy(ASTOverrides{Head: &headBack})
	require.NoError(t, err)

	st := ComputeStatus(outer)
	cs := st.Children["s"]
	require.NotNil(t, cs.IndexPointer)
	require.Equal(t, RelationAhead, cs.IndexPointer.Relation)
}

func TestEnsureCleanAndConsistentRejectsInProgressSequencer(t *testing.T) {
	outer, err := ParseShorthand("U:C1 q=u;Bmain=1;SeqCherryPick orig=1 target=1 commits=1 idx=0")
	require.NoError(t, err)
	err = EnsureCleanAndConsistent(outer)
	require.Error(t, err)
}

func TestEnsureCleanAndConsistentRejectsDirtyIndex(t *testing.T) {
	outer, err := ParseShorthand("S:C1 x=hi;Bmain=1;Ix=bye")
	require.NoError(t, err)
	err = EnsureCleanAndConsistent(outer)
	require.ErrorIs(t, err, ErrDirtyTree)
}

func TestEnsureCleanAndConsistentAcceptsClean(t *testing.T) {
	outer, err := ParseShorthand("S:C1 x=hi;Bmain=1")
	require.NoError(t, err)
	require.NoError(t, EnsureCleanAndConsistent(outer))
}

func TestFilterStatusKeepsOnlyMatchingPrefixes(t *testing.T) {
	outer, err := ParseShorthand("S:C1 s=Slib:1 t=Sother:1;Bmain=1;Os;Ot")
	require.NoError(t, err)

	st := ComputeStatus(outer)
	require.Len(t, st.Children, 2)

	filtered := FilterStatus(st, []string{"s"})
	require.Len(t, filtered.Children, 1)
	require.Contains(t, filtered.Children, "s")
}

func TestFilterStatusEmptyPrefixesReturnsOriginal(t *testing.T) {
	outer, err := ParseShorthand("S:C1 s=Slib:1;Bmain=1;Os")
	require.NoError(t, err)
	st := ComputeStatus(outer)
	require.Same(t, st, FilterStatus(st, nil))
}
