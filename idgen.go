package multirepo

import "github.com/google/uuid"

// newSyntheticID mints a fresh logical ObjectID for a commit produced
// in-memory by the Orchestrator (merge/cherry-pick/rebase results) or the
// Stash Engine. Real content-addressed ids are the Bridge's job once a
// commit is written to the physical store (§4.B); until then, an ephemeral
// but globally unique id is needed so the new commit can be referenced from
// branch tips, sequencer state, and child-pointer entries without colliding
// with any id already in the AST.
func newSyntheticID() ObjectID {
	return ObjectID("m-" + uuid.NewString())
}
