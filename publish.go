package multirepo

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// AnchorRefName derives the synthetic-anchor reference name for a commit:
// a pure function of the sha, so two independent pushers of the same
// commit agree on the same ref without coordinating, and the ref is never
// mistaken for a user-visible branch (§4.I step 4, §6 naming convention).
func AnchorRefName(sha ObjectID) string {
	return "refs/multirepo/anchor/" + string(sha)
}

// ChildPublish is one child's contribution to a publish plan: the path it
// lives at, the URL to push to, and the new commit id its outer pointer now
// names.
type ChildPublish struct {
	Path     string
	URL      string
	CommitID ObjectID
}

// PublishPlan is the result of §4.I steps 1-3: the outer range to push and
// the child commits that must land first.
type PublishPlan struct {
	From, To ObjectID
	Children []ChildPublish
}

// earliestUnpublished walks outer commit ancestry from tip, stopping at the
// first commit already reachable from a known-published ref (a
// remote-tracking branch). This is the in-process ancestry-walk
// alternative for the "closest published ancestor" heuristic spec.md §9
// leaves open: no shelled-out `git merge-base --fork-point` helper is
// spawned; the walk runs over the AST's own commit map.
func earliestUnpublished(outer *AST, tip ObjectID, knownPublished map[ObjectID]bool) ObjectID {
	if knownPublished[tip] {
		return tip
	}
	seen := map[ObjectID]bool{}
	var walk func(ObjectID) ObjectID
	walk = func(id ObjectID) ObjectID {
		if id == "" || seen[id] {
			return ""
		}
		seen[id] = true
		if knownPublished[id] {
			return id
		}
		c, ok := outer.Commits[id]
		if !ok {
			return ""
		}
		for _, p := range c.Parents {
			if found := walk(p); found != "" {
				return found
			}
		}
		return ""
	}
	if found := walk(tip); found != "" {
		return found
	}
	return ""
}

// knownPublishedSet collects every commit reachable from any of the outer
// AST's remote-tracking branches -- the "known-published ancestors" set
// step 1 walks against.
func knownPublishedSet(outer *AST) map[ObjectID]bool {
	out := map[ObjectID]bool{}
	var mark func(ObjectID)
	mark = func(id ObjectID) {
		if id == "" || out[id] {
			return
		}
		out[id] = true
		if c, ok := outer.Commits[id]; ok {
			for _, p := range c.Parents {
				mark(p)
			}
		}
	}
	for _, rem := range outer.Remotes {
		for _, tip := range rem.Branches {
			mark(tip)
		}
	}
	return out
}

// ComputePublishPlan implements §4.I steps 1-3 for pushing branch src
// (outer.Branches[src].Tip) to a remote: find the nearest published
// ancestor, diff its tree against the tip's to enumerate changed child
// pointers, and drop any child commit not accessible locally (its child
// must be open and must already contain that commit).
func ComputePublishPlan(outer *AST, src string) (*PublishPlan, error) {
	branch, ok := outer.Branches[src]
	if !ok {
		return nil, NewUserError("no such branch %q", src)
	}
	tip := branch.Tip
	published := knownPublishedSet(outer)
	base := earliestUnpublished(outer, tip, published)

	baseTree := RenderCommit(outer.Commits, base)
	tipTree := RenderCommit(outer.Commits, tip)

	declared := map[string]string{}
	for _, d := range DeclaredChildren(outer) {
		declared[d.Path] = d.URL
	}

	var children []ChildPublish
	for _, path := range SortedPaths(tipTree) {
		ce := tipTree[path]
		if ce.Kind != ChangeChildPointer {
			continue
		}
		if old, ok := baseTree[path]; ok && old.Kind == ChangeChildPointer && old.CommitID == ce.CommitID {
			continue
		}
		child, open := outer.Children[path]
		if !open || child == nil {
			continue // not accessible locally; a later exhaustive push can cover it
		}
		if _, ok := child.Commits[ce.CommitID]; !ok {
			continue
		}
		url := ce.URL
		if url == "" {
			url = declared[path]
		}
		children = append(children, ChildPublish{Path: path, URL: url, CommitID: ce.CommitID})
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })

	return &PublishPlan{From: base, To: tip, Children: children}, nil
}

// PublishError aggregates every failing child publish into a single error,
// per §4.I's failure semantics: "any child failure aborts the outer push
// and reports every failing child in a single error."
type PublishError struct {
	Failures map[string]error
}

func (e *PublishError) Error() string {
	var parts []string
	for _, p := range sortedStringKeys(e.Failures) {
		parts = append(parts, fmt.Sprintf("%s: %v", p, e.Failures[p]))
	}
	return "publish failed for: " + strings.Join(parts, "; ")
}

func sortedStringKeys(m map[string]error) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Publish executes a PublishPlan: each child's new commit is pushed to its
// own deterministic synthetic-anchor ref (concurrently, via the Work
// Queue), and only if every child succeeds is the outer ref updated. The
// outer push is never attempted on partial child failure, and a failed
// outer push never rolls back already-succeeded child anchor pushes --
// they are harmless, orphaned objects until the next publish picks a
// branch up to cover them.
//
// outerRoot is the outer repository's working directory; each child is
// materialized at outerRoot/path (§4.D), and a push must run from inside
// the repo whose object database holds the commit being pushed -- the
// outer repo's objects and a child's objects live in separate .git stores.
func Publish(ctx context.Context, git GitRunner, plan *PublishPlan, outerRoot, outerRemoteURL, outerRefName string, limit int) error {
	log := logrus.WithField("component", "publish")

	type pushResult struct {
		path string
		err  error
	}
	results, err := Run(ctx, plan.Children, limit, func(ctx context.Context, c ChildPublish) (pushResult, error) {
		refspec := string(c.CommitID) + ":" + AnchorRefName(c.CommitID)
		childDir := filepath.Join(outerRoot, c.Path)
		log.WithFields(logrus.Fields{"path": c.Path, "url": c.URL, "commit": c.CommitID}).Info("pushing child anchor")
		_, runErr := git.Run(ctx, []string{"push", "--force", c.URL, refspec}, childDir)
		return pushResult{path: c.Path, err: runErr}, nil
	})
	if err != nil {
		return NewStoreError("publish.children", err)
	}

	failures := map[string]error{}
	for _, r := range results {
		if r.err != nil {
			failures[r.path] = r.err
		}
	}
	if len(failures) > 0 {
		return &PublishError{Failures: failures}
	}

	log.WithFields(logrus.Fields{"from": plan.From, "to": plan.To, "ref": outerRefName}).Info("pushing outer ref")
	refspec := string(plan.To) + ":" + outerRefName
	if _, err := git.Run(ctx, []string{"push", outerRemoteURL, refspec}, outerRoot); err != nil {
		return NewStoreError("publish.outer", err)
	}
	return nil
}
