package multirepo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Shorthand is the textual DSL of spec.md §4.C. A single repo reads:
//
//	Kind [':' Directive (';' Directive)*]
//
// Kind is one of:
//
//	N        empty, uninitialized (no commits, no head)
//	B        bare
//	S        standard, open, non-bare
//	U        standard, open; parsed exactly like S (conflict and sequencer
//	         state come only from I and Seq directives)
//	%<K>     sparse variant of base kind K (e.g. %S)
//	C<name>  "clone of <name>" -- only legal inside a multi-repo map;
//	         inherits <name>'s commit graph and sets up a remote "origin"
//	         pointing at it
//
// Directives (';'-separated after the leading ':'):
//
//	C<id>[-<parent>(,<parent>)*][ <path>=<value>]*   commit
//	B<name>=<id>[>upstream]                          branch
//	Ref<name>=<id>                                   raw ref
//	Head=<id>                                        explicit (e.g. detached) head
//	Cur=<name>                                        current branch
//	Remote<name>=<repo> <branch>=<id>[,<branch>=<id>]*  remote
//	I<path>=<value>[,<path>=<value>]*                index change
//	W<path>=<value>[,<path>=<value>]*                workdir change
//	O<path>                                          open (materialize) child
//	Seq<kind> orig=<id> target=<id> commits=<id>(,<id>)* idx=<n>[ msg=<text>]
//	Note<ref> <id>=<text>
//
// Value is a literal string (blob content), 'S<name>:<id>' (child pointer,
// <name> resolved to "./<name>" unless it already looks like a URL), or
// empty (deletion). A value prefixed '!' encodes a conflict as
// '!<ancestor>|<ours>|<theirs>', where each side is '-' (absent) or a Value.
// A value suffixed '+x' marks the executable bit on a blob.
//
// ParseMultiRepo parses the multi-repo form `name=Repo('|'name=Repo)*`,
// resolving 'C<name>' clone kinds against repos already defined earlier in
// the same input (left to right).
func ParseMultiRepo(s string) (map[string]*AST, error) {
	p := &shorthandParser{src: s}
	out := map[string]*AST{}
	order := []string{}
	for {
		p.skipSpace()
		name, err := p.name()
		if err != nil {
			return nil, err
		}
		if err := p.expect('='); err != nil {
			return nil, err
		}
		ast, err := p.repo(out)
		if err != nil {
			return nil, err
		}
		out[name] = ast
		order = append(order, name)
		p.skipSpace()
		if p.peek() == '|' {
			p.pos++
			continue
		}
		break
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, &InvalidShorthand{Position: p.pos, Reason: "trailing input"}
	}
	_ = order
	return out, nil
}

// ParseShorthand parses a single Repo production (no multi-repo map).
func ParseShorthand(s string) (*AST, error) {
	p := &shorthandParser{src: s}
	ast, err := p.repo(nil)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, &InvalidShorthand{Position: p.pos, Reason: "trailing input"}
	}
	return ast, nil
}

type shorthandParser struct {
	src string
	pos int
}

func (p *shorthandParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *shorthandParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *shorthandParser) expect(c byte) error {
	if p.peek() != c {
		return &InvalidShorthand{Position: p.pos, Reason: fmt.Sprintf("expected %q", c)}
	}
	p.pos++
	return nil
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' || c == '/' || c == '.'
}

func (p *shorthandParser) name() (string, error) {
	start := p.pos
	for p.pos < len(p.src) && isNameByte(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", &InvalidShorthand{Position: p.pos, Reason: "expected a name"}
	}
	return p.src[start:p.pos], nil
}

// token reads up to (but not including) any of the stop bytes.
func (p *shorthandParser) token(stop string) string {
	start := p.pos
	for p.pos < len(p.src) && strings.IndexByte(stop, p.src[p.pos]) < 0 {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *shorthandParser) repo(siblings map[string]*AST) (*AST, error) {
	kind := p.token(":;|}")
	if kind == "" {
		return nil, &InvalidShorthand{Position: p.pos, Reason: "expected repo kind"}
	}

	base := AST{
		Commits: map[ObjectID]*Commit{}, Branches: map[string]Branch{}, Refs: map[string]ObjectID{},
		Remotes: map[string]Remote{}, Index: map[string]ChangeEntry{}, Workdir: map[string][]byte{},
		Children: map[string]*AST{}, Notes: map[string]map[ObjectID][]byte{},
	}
	sparse := false
	k := kind
	if strings.HasPrefix(k, "%") {
		sparse = true
		k = k[1:]
	}

	switch {
	case k == "N":
		base.Head = ""
	case k == "B":
		base.Bare = true
	case k == "S":
		base.Head = ""
	case k == "U":
		base.Head = ""
	case strings.HasPrefix(k, "C") && len(k) > 1:
		srcName := k[1:]
		src, ok := siblings[srcName]
		if !ok {
			return nil, &InvalidShorthand{Position: p.pos, Reason: fmt.Sprintf("clone of undeclared repo %q", srcName)}
		}
		base.Commits = cloneCommits(src.Commits)
		base.Branches = cloneMap(src.Branches)
		base.Refs = cloneMap(src.Refs)
		base.Head = src.Head
		base.CurrentBranch = src.CurrentBranch
		base.Remotes = map[string]Remote{"origin": {URL: "./" + srcName, Branches: branchTipMap(src.Branches)}}
	default:
		return nil, &InvalidShorthand{Position: p.pos, Reason: fmt.Sprintf("unknown repo kind %q", kind)}
	}
	base.Sparse = sparse

	if p.peek() == ':' {
		p.pos++
		for {
			if err := p.directive(&base); err != nil {
				return nil, err
			}
			p.skipSpace()
			if p.peek() == ';' {
				p.pos++
				continue
			}
			break
		}
	}

	return NewAST(base)
}

func branchTipMap(b map[string]Branch) map[string]ObjectID {
	out := make(map[string]ObjectID, len(b))
	for k, v := range b {
		out[k] = v.Tip
	}
	return out
}

// directive dispatches on the unconsumed remainder of input. Most directive
// kinds are single-line (no nested braces) and are handled by reading one
// whitespace/semicolon-delimited tag and consuming it; OpenChild is
// special-cased because it may be followed by a brace-delimited nested
// repo whose own directives can themselves contain spaces and semicolons.
func (p *shorthandParser) directive(a *AST) error {
	rest := p.src[p.pos:]
	switch {
	case strings.HasPrefix(rest, "Ref"):
		return p.refDirective(a, p.consumeTag())
	case strings.HasPrefix(rest, "Head"):
		return p.headDirective(a, p.consumeTag())
	case strings.HasPrefix(rest, "Cur="):
		tag := p.consumeTag()
		a.CurrentBranch = tag[len("Cur="):]
		return nil
	case strings.HasPrefix(rest, "Remote"):
		return p.remoteDirective(a, p.consumeWordTag())
	case strings.HasPrefix(rest, "Seq"):
		return p.sequencerDirective(a, p.consumeWordTag())
	case strings.HasPrefix(rest, "Note"):
		return p.noteDirective(a, p.consumeWordTag())
	case strings.HasPrefix(rest, "O"):
		return p.openChildDirective(a)
	case len(rest) > 0 && rest[0] == 'C' && len(rest) > 1 && rest[1] >= '0' && rest[1] <= '9':
		return p.commitDirective(a, p.consumeWordTag())
	case len(rest) > 0 && rest[0] == 'B':
		return p.branchDirective(a, p.consumeTag())
	case len(rest) > 0 && rest[0] == 'I':
		p.pos++
		p.skipSpace()
		return p.changeSetDirective(a, p.consumeTag(), true)
	case len(rest) > 0 && rest[0] == 'W':
		p.pos++
		p.skipSpace()
		return p.workdirDirective(a, p.consumeTag())
	}
	return &InvalidShorthand{Position: p.pos, Reason: fmt.Sprintf("unrecognized directive at %q", rest)}
}

// consumeTag reads and consumes up to the next space, ';' or '}' (the last
// closes a nested child repo).
func (p *shorthandParser) consumeTag() string { return p.token(" ;}") }

// consumeWordTag reads and consumes only the leading word (kind + id),
// stopping at the first space, ';' or '}' -- the remainder (space-separated
// fields) is consumed by the specific sub-parser that follows.
func (p *shorthandParser) consumeWordTag() string { return p.token(" ;}") }

func (p *shorthandParser) openChildDirective(a *AST) error {
	p.pos++ // consume 'O'
	start := p.pos
	for p.pos < len(p.src) && isNameByte(p.src[p.pos]) {
		p.pos++
	}
	path := p.src[start:p.pos]
	if path == "" {
		return &InvalidShorthand{Position: p.pos, Reason: "expected child path after 'O'"}
	}
	if p.peek() == '{' {
		p.pos++
		child, err := p.repo(nil)
		if err != nil {
			return err
		}
		if err := p.expect('}'); err != nil {
			return err
		}
		a.Children[path] = child
		return nil
	}
	ptr, ok := RenderIndex(a.Commits, a.Head, a.Index)[path]
	if !ok || ptr.Kind != ChangeChildPointer || ptr.CommitID == "" {
		return &InvalidShorthand{Position: p.pos, Reason: fmt.Sprintf("no child pointer at %q to open", path)}
	}
	child, err := NewAST(AST{Commits: map[ObjectID]*Commit{ptr.CommitID: {ID: ptr.CommitID}}, Head: ptr.CommitID})
	if err != nil {
		return err
	}
	a.Children[path] = child
	return nil
}

func (p *shorthandParser) commitDirective(a *AST, tag string) error {
	rest := tag[1:]
	idPart := rest
	var parents []ObjectID
	if idx := strings.Index(rest, "-"); idx >= 0 {
		idPart = rest[:idx]
		for _, par := range strings.Split(rest[idx+1:], ",") {
			parents = append(parents, ObjectID(par))
		}
	}
	id := ObjectID(idPart)

	changes := map[string]ChangeEntry{}
	for {
		p.skipSpace()
		if p.peek() == 0 || p.peek() == ';' || p.peek() == '}' {
			break
		}
		path := p.token(" ;=")
		if path == "" {
			return &InvalidShorthand{Position: p.pos, Reason: "expected commit path"}
		}
		if err := p.expect('='); err != nil {
			return err
		}
		val := p.token(" ;}")
		ce, err := parseValue(val)
		if err != nil {
			return err
		}
		changes[path] = ce
	}

	a.Commits[id] = &Commit{ID: id, Parents: parents, Changes: changes}
	for _, par := range parents {
		if _, ok := a.Commits[par]; !ok {
			a.Commits[par] = &Commit{ID: par, Changes: map[string]ChangeEntry{}}
		}
	}
	a.Head = id
	return nil
}

func parseValue(val string) (ChangeEntry, error) {
	if val == "" {
		return Removed(), nil
	}
	if strings.HasPrefix(val, "!") {
		parts := strings.SplitN(val[1:], "|", 3)
		if len(parts) != 3 {
			return ChangeEntry{}, &InvalidShorthand{Reason: "conflict value needs 3 sides"}
		}
		side := func(s string) (ChangeEntryRef, error) {
			if s == "-" {
				return ChangeEntryRef{Present: false}, nil
			}
			if strings.HasPrefix(s, "S") && strings.Contains(s, ":") {
				name, id, ok := strings.Cut(s[1:], ":")
				if !ok {
					return ChangeEntryRef{}, &InvalidShorthand{Reason: "bad child-pointer conflict side"}
				}
				return ChangeEntryRef{Present: true, IsChild: true, ChildURL: resolveURL(name), ChildID: ObjectID(id)}, nil
			}
			return ChangeEntryRef{Present: true, Blob: []byte(s)}, nil
		}
		anc, err := side(parts[0])
		if err != nil {
			return ChangeEntry{}, err
		}
		ours, err := side(parts[1])
		if err != nil {
			return ChangeEntry{}, err
		}
		theirs, err := side(parts[2])
		if err != nil {
			return ChangeEntry{}, err
		}
		return Conflict(anc, ours, theirs), nil
	}
	if strings.HasPrefix(val, "S") && strings.Contains(val, ":") {
		name, id, ok := strings.Cut(val[1:], ":")
		if !ok {
			return ChangeEntry{}, &InvalidShorthand{Reason: "bad child pointer value"}
		}
		return ChildPointer(resolveURL(name), ObjectID(id)), nil
	}
	exec := false
	if strings.HasSuffix(val, "+x") {
		exec = true
		val = strings.TrimSuffix(val, "+x")
	}
	return Blob([]byte(val), exec), nil
}

func resolveURL(name string) string {
	if strings.Contains(name, "://") || strings.HasPrefix(name, "git@") || strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") {
		return name
	}
	return "./" + name
}

func (p *shorthandParser) branchDirective(a *AST, tag string) error {
	rest := tag[1:]
	nameVal := rest
	name, val, ok := strings.Cut(nameVal, "=")
	if !ok {
		return &InvalidShorthand{Reason: "bad branch directive"}
	}
	id, upstream, _ := strings.Cut(val, ">")
	a.Branches[name] = Branch{Tip: ObjectID(id), Upstream: upstream}
	if _, ok := a.Commits[ObjectID(id)]; !ok {
		a.Commits[ObjectID(id)] = &Commit{ID: ObjectID(id), Changes: map[string]ChangeEntry{}}
	}
	return nil
}

func (p *shorthandParser) refDirective(a *AST, tag string) error {
	rest := strings.TrimPrefix(tag, "Ref")
	name, val, ok := strings.Cut(rest, "=")
	if !ok {
		return &InvalidShorthand{Reason: "bad ref directive"}
	}
	a.Refs[name] = ObjectID(val)
	return nil
}

func (p *shorthandParser) headDirective(a *AST, tag string) error {
	rest := strings.TrimPrefix(tag, "Head")
	if rest == "" {
		a.Head = ""
		return nil
	}
	if !strings.HasPrefix(rest, "=") {
		return &InvalidShorthand{Reason: "bad head directive"}
	}
	a.Head = ObjectID(rest[1:])
	return nil
}

func (p *shorthandParser) remoteDirective(a *AST, tag string) error {
	rest := strings.TrimPrefix(tag, "Remote")
	name, repoRef, ok := strings.Cut(rest, "=")
	if !ok {
		return &InvalidShorthand{Reason: "bad remote directive"}
	}
	branches := map[string]ObjectID{}
	p.skipSpace()
	for {
		if p.peek() == 0 || p.peek() == ';' {
			break
		}
		entry := p.token(" ,;")
		if entry == "" {
			break
		}
		bname, id, ok := strings.Cut(entry, "=")
		if !ok {
			return &InvalidShorthand{Reason: "bad remote branch entry"}
		}
		branches[bname] = ObjectID(id)
		if p.peek() == ',' {
			p.pos++
			continue
		}
		break
	}
	a.Remotes[name] = Remote{URL: resolveURL(repoRef), Branches: branches}
	return nil
}

func (p *shorthandParser) changeSetDirective(a *AST, rest string, index bool) error {
	for _, entry := range strings.Split(rest, ",") {
		path, val, ok := strings.Cut(entry, "=")
		if !ok {
			return &InvalidShorthand{Reason: "bad change-set entry"}
		}
		ce, err := parseValue(val)
		if err != nil {
			return err
		}
		if index {
			a.Index[path] = ce
		}
	}
	return nil
}

func (p *shorthandParser) workdirDirective(a *AST, rest string) error {
	for _, entry := range strings.Split(rest, ",") {
		path, val, ok := strings.Cut(entry, "=")
		if !ok {
			return &InvalidShorthand{Reason: "bad workdir entry"}
		}
		a.Workdir[path] = []byte(val)
	}
	return nil
}

func (p *shorthandParser) sequencerDirective(a *AST, tag string) error {
	rest := strings.TrimPrefix(tag, "Seq")
	kindStr := rest
	var kind SequencerKind
	switch kindStr {
	case "Rebase":
		kind = SequencerRebase
	case "CherryPick":
		kind = SequencerCherryPick
	case "Merge":
		kind = SequencerMerge
	default:
		return &InvalidShorthand{Reason: fmt.Sprintf("unknown sequencer kind %q", kindStr)}
	}
	seq := &SequencerState{Kind: kind}
	for {
		p.skipSpace()
		if p.peek() == 0 || p.peek() == ';' {
			break
		}
		entry := p.token(" ;")
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			return &InvalidShorthand{Reason: "bad sequencer field"}
		}
		switch k {
		case "orig":
			seq.OriginalHead = RefPair{Commit: ObjectID(v)}
		case "target":
			seq.Target = RefPair{Commit: ObjectID(v)}
		case "commits":
			for _, id := range strings.Split(v, ",") {
				seq.Commits = append(seq.Commits, ObjectID(id))
			}
		case "idx":
			n, err := strconv.Atoi(v)
			if err != nil {
				return &InvalidShorthand{Reason: "bad sequencer idx"}
			}
			seq.CurrentIndex = n
		case "msg":
			seq.Message = []byte(v)
		}
	}
	a.Sequencer = seq
	return nil
}

func (p *shorthandParser) noteDirective(a *AST, tag string) error {
	ref := strings.TrimPrefix(tag, "Note")
	p.skipSpace()
	entry := p.token(" ;")
	id, text, ok := strings.Cut(entry, "=")
	if !ok {
		return &InvalidShorthand{Reason: "bad note entry"}
	}
	if a.Notes[ref] == nil {
		a.Notes[ref] = map[ObjectID][]byte{}
	}
	a.Notes[ref][ObjectID(id)] = []byte(text)
	return nil
}

// Format renders an AST back to shorthand, used by the round-trip tests. It
// is not byte-identical to hand-written input (e.g. commit ordering is
// normalized), and it emits only the repo kind (S or B), commits, branch
// tips, head, current branch and index. Refs, remotes, workdir, children,
// sequencer state, notes, branch upstreams and the sparse and U kinds are
// not written, so re-parsing preserves only those emitted fields.
func Format(a *AST) string {
	var b strings.Builder
	if a.Bare {
		b.WriteString("B")
	} else {
		b.WriteString("S")
	}
	directives := []string{}
	ids := make([]string, 0, len(a.Commits))
	for id := range a.Commits {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := a.Commits[ObjectID(id)]
		d := "C" + id
		if len(c.Parents) > 0 {
			ps := make([]string, len(c.Parents))
			for i, p := range c.Parents {
				ps[i] = string(p)
			}
			d += "-" + strings.Join(ps, ",")
		}
		for _, path := range SortedPaths(c.Changes) {
			d += " " + path + "=" + formatValue(c.Changes[path])
		}
		directives = append(directives, d)
	}
	names := make([]string, 0, len(a.Branches))
	for n := range a.Branches {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		directives = append(directives, fmt.Sprintf("B%s=%s", n, a.Branches[n].Tip))
	}
	if a.Head != "" {
		directives = append(directives, "Head="+string(a.Head))
	}
	if a.CurrentBranch != "" {
		directives = append(directives, "Cur="+a.CurrentBranch)
	}
	for _, path := range SortedPaths(a.Index) {
		directives = append(directives, "I"+path+"="+formatValue(a.Index[path]))
	}
	if len(directives) > 0 {
		b.WriteString(":")
		b.WriteString(strings.Join(directives, ";"))
	}
	return b.String()
}

func formatValue(ce ChangeEntry) string {
	switch ce.Kind {
	case ChangeRemoved:
		return ""
	case ChangeChildPointer:
		return "S" + strings.TrimPrefix(ce.URL, "./") + ":" + string(ce.CommitID)
	case ChangeBlob:
		v := string(ce.Blob)
		if ce.Executable {
			v += "+x"
		}
		return v
	case ChangeConflict:
		side := func(r ChangeEntryRef) string {
			if !r.Present {
				return "-"
			}
			if r.IsChild {
				return "S" + strings.TrimPrefix(r.ChildURL, "./") + ":" + string(r.ChildID)
			}
			return string(r.Blob)
		}
		return "!" + side(ce.Ancestor) + "|" + side(ce.Ours) + "|" + side(ce.Theirs)
	}
	return ""
}
