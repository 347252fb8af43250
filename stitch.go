package multirepo

import "encoding/json"

const (
	notesConvertedCommit = "converted-commit"
	notesReference       = "reference"
)

// ReferenceNote is the JSON payload stored under the reference note ref
// (§6): it pairs a stitched commit with the outer commit it was produced
// from and, for traceability, the exact child commit each inlined child
// path came from.
type ReferenceNote struct {
	OriginOuterSHA ObjectID            `json:"origin_outer_sha"`
	ChildSHAs      map[string]ObjectID `json:"child_shas"`
}

// stitchFlatten recursively inlines every ChildPointer entry in flat with
// the actual file content of that child's tree at the pointed commit,
// turning a multirepo tree (gitlinks and all) into one ordinary,
// self-contained tree a submodule-unaware consumer can read directly. It
// also records, per top-level child path touched, the child commit id that
// contributed the inlined content.
func stitchFlatten(outer *AST, flat map[string]ChangeEntry) (map[string]ChangeEntry, map[string]ObjectID) {
	out := make(map[string]ChangeEntry, len(flat))
	childSHAs := map[string]ObjectID{}

	for path, ce := range flat {
		if ce.Kind != ChangeChildPointer {
			out[path] = ce
			continue
		}
		child, ok := outer.Children[path]
		if !ok || child == nil {
			// Not locally open: nothing to inline with, leave the pointer
			// as-is rather than silently dropping the path.
			out[path] = ce
			continue
		}
		childSHAs[path] = ce.CommitID
		childFlat := RenderCommit(child.Commits, ce.CommitID)
		innerFlat, innerSHAs := stitchFlatten(child, childFlat)
		for innerPath, innerCE := range innerFlat {
			out[path+"/"+innerPath] = innerCE
		}
		for innerPath, sha := range innerSHAs {
			childSHAs[path+"/"+innerPath] = sha
		}
	}
	return out, childSHAs
}

// Stitch implements the stitching subsystem of §6: for each outer commit in
// ids (processed in the given, parent-first order), it produces a flattened
// commit with every child pointer replaced by the child's actual tree
// content, parented onto the *previous* commit's stitched equivalent so the
// stitched history forms its own ordinary, linear-per-parent chain.
//
// A commit whose tree holds no child pointer to an open child (none at all,
// or only pointers to children that are not open, which are left as
// pointers) gets no separate stitched object: it is recorded with an empty
// stitched sha ("skipped", per §6) and the original id is used as the next
// commit's stitch-parent.
//
// Each stitched commit is anchored by a synthetic-anchor ref
// (AnchorRefName) so it stays reachable. The correspondence is persisted
// into outer.Notes under the
// converted-commit and reference namespaces; Stitch returns the updated AST
// alongside the original:stitched id mapping for the processed range.
func Stitch(outer *AST, ids []ObjectID) (*AST, map[ObjectID]ObjectID, error) {
	converted := map[ObjectID]ObjectID{}
	convertedNotes := map[ObjectID][]byte{}
	referenceNotes := map[ObjectID][]byte{}
	newCommits := cloneCommits(outer.Commits)
	newRefs := cloneMap(outer.Refs)

	for _, id := range ids {
		commit, ok := newCommits[id]
		if !ok {
			return nil, nil, &InvalidRepoShape{Detail: "stitch: unknown commit " + string(id)}
		}

		flat := RenderCommit(newCommits, id)
		stitchedFlat, childSHAs := stitchFlatten(outer, flat)
		if len(childSHAs) == 0 {
			converted[id] = ""
			convertedNotes[id] = []byte("")
			continue
		}

		var parents []ObjectID
		parentFlat := map[string]ChangeEntry{}
		if len(commit.Parents) > 0 {
			parentStitch := commit.Parents[0]
			if mapped, ok := converted[parentStitch]; ok && mapped != "" {
				parentStitch = mapped
			}
			parents = []ObjectID{parentStitch}
			parentFlat = RenderCommit(newCommits, parentStitch)
		}
		changes := diffFlat(parentFlat, stitchedFlat)

		stitchedID := newSyntheticID()
		newCommits[stitchedID] = &Commit{
			ID:        stitchedID,
			Parents:   parents,
			Changes:   changes,
			Message:   commit.Message,
			Author:    commit.Author,
			Committer: commit.Committer,
		}
		newRefs[AnchorRefName(stitchedID)] = stitchedID
		converted[id] = stitchedID
		convertedNotes[id] = []byte(stitchedID)

		note := ReferenceNote{OriginOuterSHA: id, ChildSHAs: childSHAs}
		payload, err := json.Marshal(note)
		if err != nil {
			return nil, nil, err
		}
		referenceNotes[stitchedID] = payload
	}

	next, err := outer.Copy(ASTOverrides{
		Commits: newCommits,
		Refs:    newRefs,
		Notes: map[string]map[ObjectID][]byte{
			notesConvertedCommit: convertedNotes,
			notesReference:       referenceNotes,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return next, converted, nil
}
