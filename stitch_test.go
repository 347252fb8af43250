package multirepo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func stitchFixture(t *testing.T) *AST {
	t.Helper()
	outer, err := ParseShorthand("S:C1 s=Slib:1;C2-1 s=Slib:2;Bmain=2;Os{S:C1 f=a;C2-1 f=b;Bmain=2}")
	require.NoError(t, err)
	return outer
}

func TestStitchFlattenInlinesChildContent(t *testing.T) {
	outer := stitchFixture(t)
	flat := RenderCommit(outer.Commits, "2")

	out, childSHAs := stitchFlatten(outer, flat)
	_, hasPointer := out["s"]
	require.False(t, hasPointer, "the gitlink entry should be replaced by inlined content")
	require.Equal(t, "b", string(out["s/f"].Blob))
	require.Equal(t, ObjectID("2"), childSHAs["s"])
}

func TestStitchFlattenLeavesUnopenedChildPointerAsIs(t *testing.T) {
	outer, err := ParseShorthand("S:C1 s=Slib:1;Bmain=1")
	require.NoError(t, err)
	flat := RenderCommit(outer.Commits, "1")

	out, childSHAs := stitchFlatten(outer, flat)
	ce, ok := out["s"]
	require.True(t, ok)
	require.Equal(t, ChangeChildPointer, ce.Kind)
	require.Empty(t, childSHAs)
}

func TestStitchProducesLinearStitchedChainWithNotes(t *testing.T) {
	outer := stitchFixture(t)

	next, converted, err := Stitch(outer, []ObjectID{"1", "2"})
	require.NoError(t, err)
	require.Len(t, converted, 2)

	stitched1 := converted["1"]
	stitched2 := converted["2"]
	require.NotEmpty(t, stitched1)
	require.NotEmpty(t, stitched2)
	require.NotEqual(t, stitched1, stitched2)

	c1, ok := next.Commits[stitched1]
	require.True(t, ok)
	require.Equal(t, "a", string(c1.Changes["s/f"].Blob))

	c2, ok := next.Commits[stitched2]
	require.True(t, ok)
	require.Equal(t, []ObjectID{stitched1}, c2.Parents)
	// commit 2 only changed f from a to b, so the stitched diff should carry
	// just that one path forward, not the whole tree again.
	require.Equal(t, "b", string(c2.Changes["s/f"].Blob))

	payload, ok := next.Notes[notesReference][stitched2]
	require.True(t, ok)
	var note ReferenceNote
	require.NoError(t, json.Unmarshal(payload, &note))
	require.Equal(t, ObjectID("2"), note.OriginOuterSHA)
	require.Equal(t, ObjectID("2"), note.ChildSHAs["s"])
}

func TestStitchSkipsCommitWithNoChildPointers(t *testing.T) {
	outer, err := ParseShorthand("S:C1 README.md=hi;Bmain=1")
	require.NoError(t, err)

	next, converted, err := Stitch(outer, []ObjectID{"1"})
	require.NoError(t, err)
	require.Equal(t, ObjectID(""), converted["1"])

	note, ok := next.Notes[notesConvertedCommit]["1"]
	require.True(t, ok)
	require.Equal(t, "", string(note))
}
