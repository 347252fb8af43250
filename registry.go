package multirepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// DeclaredChild is one entry of the outer root's declaration file: a child
// path mapped to the URL it should be cloned/opened from.
type DeclaredChild struct {
	Path string
	URL  string
}

// ParseDeclarationFile parses the `[child "path"] url = <url>` stanza format
// at the outer repository root. The format mirrors a conventional
// git-config-style stanza file, so the same line shape the ecosystem uses
// elsewhere for per-path configuration is reused here rather than invented.
func ParseDeclarationFile(data []byte) ([]DeclaredChild, error) {
	var out []DeclaredChild
	var current string
	for _, rawLine := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[child ") {
			name := strings.TrimSuffix(strings.TrimPrefix(line, "[child "), "]")
			current = strings.Trim(name, `"`)
			continue
		}
		if current == "" {
			return nil, &InvalidRepoShape{Detail: fmt.Sprintf("declaration entry outside of a [child] stanza: %q", line)}
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if key == "url" {
			out = append(out, DeclaredChild{Path: current, URL: val})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// FormatDeclarationFile renders children back to the stanza format, grouped
// by child path with the URL stored verbatim, matching what ParseDeclarationFile
// accepts (§6 requires write to accept and emit the same byte-exact shape).
func FormatDeclarationFile(children []DeclaredChild) []byte {
	sorted := append([]DeclaredChild(nil), children...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	var b strings.Builder
	for _, c := range sorted {
		fmt.Fprintf(&b, "[child %q]\n\turl = %s\n", c.Path, c.URL)
	}
	return []byte(b.String())
}

// DeclaredChildren enumerates a repo's declared children by inspecting its
// rendered head∘index view for ChildPointer entries, joined against the
// declaration file's URL table (if present as a blob at the root).
func DeclaredChildren(a *AST) []DeclaredChild {
	rendered := a.Render()
	urls := map[string]string{}
	if decl, ok := rendered[".multirepo"]; ok && decl.Kind == ChangeBlob {
		parsed, err := ParseDeclarationFile(decl.Blob)
		if err == nil {
			for _, c := range parsed {
				urls[c.Path] = c.URL
			}
		}
	}
	var out []DeclaredChild
	for _, path := range SortedPaths(rendered) {
		ce := rendered[path]
		if ce.Kind != ChangeChildPointer {
			continue
		}
		url := ce.URL
		if url == "" {
			url = urls[path]
		}
		out = append(out, DeclaredChild{Path: path, URL: url})
	}
	return out
}

// Registry caches materialized (open) child AST handles for the duration of
// one outer operation, and resolves relative child URLs against the outer
// repository's own remote. It follows the teacher's functional-Option
// construction pattern (WithGitRunner/WithOutput) and uses an AtomicOp
// rollback stack for Open's all-or-nothing semantics.
type Registry struct {
	outer      *AST
	outerURL   string
	git        GitRunner
	forceBare  bool
	cache      map[string]*AST
	log        *logrus.Entry
	openHooks  []string
	hookOutput *Output
}

// RegistryOption configures a Registry, mirroring the teacher's Option type.
type RegistryOption func(*Registry)

// WithForceBare marks the registry as opening children bare, for
// server-side batch operations. The flag is only logged by Open; whether a
// worktree is created is decided by the materialize function passed to Open
// (DefaultMaterializer's forceBare argument).
func WithForceBare() RegistryOption {
	return func(r *Registry) { r.forceBare = true }
}

// WithRegistryGitRunner overrides the shelled-out git primitive.
func WithRegistryGitRunner(g GitRunner) RegistryOption {
	return func(r *Registry) { r.git = g }
}

// WithOpenHooks runs the given commands (RepoConfig.OpenHooks) after each
// successful Open, reporting through output.
func WithOpenHooks(hooks []string, output *Output) RegistryOption {
	return func(r *Registry) { r.openHooks = hooks; r.hookOutput = output }
}

// NewRegistry creates a Registry bound to an outer AST and its own remote
// URL (used to resolve `./x`/`../y`-relative child URLs).
func NewRegistry(outer *AST, outerURL string, opts ...RegistryOption) *Registry {
	r := &Registry{
		outer:    outer,
		outerURL: outerURL,
		git:      &DefaultGitRunner{},
		cache:    map[string]*AST{},
		log:      logrus.WithField("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveURL resolves a declared child URL against the outer repository's
// own remote, honoring `./`/`../`-relative forms the same way the
// conventional declaration file does.
func (r *Registry) ResolveURL(childURL string) string {
	if !strings.HasPrefix(childURL, "./") && !strings.HasPrefix(childURL, "../") {
		return childURL
	}
	base := r.outerURL
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[:idx]
	}
	return filepath.Clean(base + "/" + childURL)
}

// IsOpen reports whether path has a materialized handle in the outer AST's
// Children map.
func (r *Registry) IsOpen(path string) bool {
	_, ok := r.outer.Children[path]
	return ok
}

// Open materializes a declared child, returning its cached handle if one is
// already open. Open is idempotent and atomic: a failure midway removes any
// partially created state so the child is observed as closed afterwards.
func (r *Registry) Open(ctx context.Context, path string, materialize func(ctx context.Context, url string) (*AST, error)) (result *AST, err error) {
	if cached, ok := r.cache[path]; ok {
		return cached, nil
	}
	if existing, ok := r.outer.Children[path]; ok && existing != nil {
		r.cache[path] = existing
		return existing, nil
	}

	declared := DeclaredChildren(r.outer)
	var url string
	found := false
	for _, d := range declared {
		if d.Path == path {
			url, found = d.URL, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrChildNotFound, path)
	}
	if r.IsOpen(path) {
		return nil, fmt.Errorf("%w: %s", ErrChildAlreadyOpen, path)
	}

	resolved := r.ResolveURL(url)
	r.log.WithFields(logrus.Fields{"path": path, "url": resolved, "force_bare": r.forceBare}).Info("opening child")

	op := NewAtomicOp()
	defer func() {
		if err != nil {
			op.Rollback(ctx)
		}
	}()

	child, err := materialize(ctx, resolved)
	if err != nil {
		r.log.WithFields(logrus.Fields{"path": path, "error": err}).Warn("open failed, rolling back")
		return nil, NewStoreError("registry.open", err)
	}

	r.outer.Children[path] = child
	r.cache[path] = child
	op.AddUndo(func(ctx context.Context) error {
		delete(r.outer.Children, path)
		delete(r.cache, path)
		return nil
	})

	if len(r.openHooks) > 0 {
		if hookErr := RunHooks(r.openHooks, path, resolved, r.hookOutput); hookErr != nil {
			// Hooks are side-effectful and not reliably reversible, same
			// judgment the teacher's NewAtomic makes for post-create
			// hooks: the child stays open, the hook failure is reported
			// but does not roll back the clone.
			r.log.WithFields(logrus.Fields{"path": path, "error": hookErr}).Warn("open hook failed")
		}
	}

	op.Commit()
	return child, nil
}

// Close drops a child's materialized state, leaving only its pointer entry
// (or lack thereof) in the outer AST.
func (r *Registry) Close(path string) error {
	if _, ok := r.outer.Children[path]; !ok {
		return fmt.Errorf("%w: %s", ErrChildClosed, path)
	}
	delete(r.outer.Children, path)
	delete(r.cache, path)
	return nil
}

// FindMeta walks upward from startDir through parent directories looking for
// the outer repository that declares a child whose directory is startDir or
// contains it, implementing the `submodule find-meta` CLI operation. lookup is
// injected so tests can avoid touching the real filesystem.
func FindMeta(startDir string, lookup func(dir string) (*AST, bool)) (outerRoot string, childPath string, ok bool) {
	dir := startDir
	for {
		if a, exists := lookup(dir); exists {
			for _, d := range DeclaredChildren(a) {
				candidate := filepath.Join(dir, d.Path)
				if candidate == startDir || strings.HasPrefix(startDir, candidate+string(filepath.Separator)) {
					rel, err := filepath.Rel(candidate, startDir)
					if err != nil {
						rel = "."
					}
					childPath = d.Path
					if rel != "." {
						childPath = filepath.Join(d.Path, rel)
					}
					return dir, childPath, true
				}
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", false
		}
		dir = parent
	}
}

// DefaultMaterializer is the default materialize function used by the
// CLI: it shells to `git clone` through the GitRunner (`git clone --bare` in
// force-bare mode), then reads the result back through the Bridge.
func DefaultMaterializer(git GitRunner, outerRoot, path string, forceBare bool) func(ctx context.Context, url string) (*AST, error) {
	return func(ctx context.Context, url string) (*AST, error) {
		dest := filepath.Join(outerRoot, path)
		args := []string{"clone"}
		if forceBare {
			args = append(args, "--bare")
		}
		args = append(args, url, dest)
		if _, err := git.Run(ctx, args, ""); err != nil {
			os.RemoveAll(dest)
			return nil, err
		}
		return ReadAST(dest)
	}
}
