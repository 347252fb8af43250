package multirepo

import (
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RepoConfig holds per-repository configuration from .multirepo.yaml: the
// default branch merges target, hook commands run around child open/close,
// and defaults for the Work Queue and Registry.
type RepoConfig struct {
	DefaultBase string   `yaml:"default_base"`
	ForceBare   bool     `yaml:"force_bare"`
	MergeFFOnly bool     `yaml:"merge_ff_only"`
	QueueLimit  int      `yaml:"queue_limit"`
	PostOpen    []string `yaml:"post_open"`
	PreClose    []string `yaml:"pre_close"`
	PostCommit  []string `yaml:"post_commit"`
}

// LoadRepoConfig loads .multirepo.yaml from the outer repository root.
// Returns a default config if the file doesn't exist.
func LoadRepoConfig(repoPath string) (*RepoConfig, error) {
	configPath := filepath.Join(repoPath, ".multirepo.yaml")

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return &RepoConfig{DefaultBase: "main"}, nil
	}
	if err != nil {
		return nil, err
	}

	var config RepoConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	if config.DefaultBase == "" {
		config.DefaultBase = "main"
	}

	return &config, nil
}

// OpenHooks returns commands to run after a child is opened.
func (c *RepoConfig) OpenHooks() []string {
	if c == nil {
		return nil
	}
	return c.PostOpen
}

// CloseHooks returns commands to run before a child is closed.
func (c *RepoConfig) CloseHooks() []string {
	if c == nil {
		return nil
	}
	return c.PreClose
}

// CommitHooks returns commands to run after a cross-repo commit finalizes.
func (c *RepoConfig) CommitHooks() []string {
	if c == nil {
		return nil
	}
	return c.PostCommit
}

// RunHooks executes hook commands against a child path.
func RunHooks(commands []string, childPath, childURL string, output *Output) error {
	env := os.Environ()
	env = append(env, "MULTIREPO_CHILD_PATH="+childPath, "MULTIREPO_CHILD_URL="+childURL)

	for _, cmdStr := range commands {
		output.Info("Running: " + cmdStr)

		cmd := exec.Command("sh", "-c", cmdStr)
		cmd.Dir = childPath
		cmd.Env = env
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			output.Error("Hook failed: " + cmdStr)
			return err
		}
	}

	return nil
}
