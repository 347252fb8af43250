package multirepo

import "sort"

// PlanItem is one entry in a planner's levelized emission order.
type PlanItem struct {
	ID    ObjectID
	Level int
}

// Plan is the full levelized output of the Cross-Repo Commit Planner: a
// sequence of levels, each containing commits that depend only on commits
// in strictly earlier levels (§4.G property 4, "planner level monotonicity").
type Plan struct {
	Levels [][]ObjectID
}

// LevelOf returns the level index a commit was placed at, or -1 if absent.
func (p *Plan) LevelOf(id ObjectID) int {
	for i, level := range p.Levels {
		for _, c := range level {
			if c == id {
				return i
			}
		}
	}
	return -1
}

// BuildPlan computes the dependency set for each commit to write -- its
// parents plus any child-pointer commit id referenced in its change set that
// is itself among the commits being written -- then levelizes the resulting
// DAG via Kahn's algorithm, the same topological-sort discipline the
// teacher's buildDependencyOrder uses for cascading branch dependencies,
// generalized from a single parent-branch edge per node to the full
// dependency set §4.G describes.
func BuildPlan(commits map[ObjectID]*Commit, toWrite []ObjectID) (*Plan, error) {
	writeSet := map[ObjectID]bool{}
	for _, id := range toWrite {
		writeSet[id] = true
	}

	deps := map[ObjectID]map[ObjectID]bool{}
	for _, id := range toWrite {
		c, ok := commits[id]
		if !ok {
			return nil, &InvalidRepoShape{Detail: "planner: unknown commit " + string(id)}
		}
		set := map[ObjectID]bool{}
		for _, p := range c.Parents {
			if writeSet[p] {
				set[p] = true
			}
		}
		for _, ce := range c.Changes {
			if ce.Kind == ChangeChildPointer && writeSet[ce.CommitID] {
				set[ce.CommitID] = true
			}
		}
		deps[id] = set
	}

	indegree := map[ObjectID]int{}
	dependents := map[ObjectID][]ObjectID{}
	for id, set := range deps {
		indegree[id] = len(set)
		for dep := range set {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var levels [][]ObjectID
	remaining := map[ObjectID]bool{}
	for _, id := range toWrite {
		remaining[id] = true
	}

	for len(remaining) > 0 {
		var level []ObjectID
		for id := range remaining {
			if indegree[id] == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			return nil, &InvalidRepoShape{Detail: "planner: cycle detected among commits to write"}
		}
		sort.Slice(level, func(i, j int) bool { return level[i] < level[j] })
		for _, id := range level {
			delete(remaining, id)
			for _, dep := range dependents[id] {
				indegree[dep]--
			}
		}
		levels = append(levels, level)
	}

	return &Plan{Levels: levels}, nil
}

// ChildCommitsForMerge computes, for one child, the set of commits the
// child introduces between a merge base and its tip -- the set the planner
// schedules ahead of the outer merge commit per §4.G's second paragraph.
func ChildCommitsForMerge(commits map[ObjectID]*Commit, base, tip ObjectID) []ObjectID {
	var out []ObjectID
	seen := map[ObjectID]bool{}
	var walk func(ObjectID)
	walk = func(id ObjectID) {
		if id == "" || id == base || seen[id] {
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
		out = append(out, id)
	}
	walk(tip)
	return out
}

// ToWriteOrder flattens a Plan into a single emission order (level by
// level, sorted within level), the shape Component B's Write direction
// consumes.
func (p *Plan) ToWriteOrder() []ObjectID {
	var out []ObjectID
	for _, level := range p.Levels {
		out = append(out, level...)
	}
	return out
}
