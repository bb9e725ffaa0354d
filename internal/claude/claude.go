// Package claude selects annotation models, manages the local API key, and
// launches the assistant CLI with transcript capture.
package claude

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"

	"github.com/zhubert/duet/internal/errors"
	dexec "github.com/zhubert/duet/internal/exec"
	"github.com/zhubert/duet/internal/logger"
	"github.com/zhubert/duet/internal/paths"
)

// LaunchDisabledEnv suppresses the real assistant launch; stages write a
// placeholder transcript instead. Used by --dry-run and tests.
const LaunchDisabledEnv = "DUET_LAUNCH_DISABLED"

// APIKeyEnv is checked before any key file.
const APIKeyEnv = "ANTHROPIC_API_KEY"

// DefaultModels is the comparison pair used when the repo config does not
// override it.
var DefaultModels = []string{
	"claude-sonnet-4-5-20250929",
	"claude-opus-4-1-20250805",
}

// Registry holds the model pair under comparison.
type Registry struct {
	models []string
	rng    *rand.Rand
}

// NewRegistry builds a registry from a model list, falling back to the
// defaults for an empty list.
func NewRegistry(models []string) (*Registry, error) {
	if len(models) == 0 {
		models = DefaultModels
	}
	if len(models) != 2 {
		return nil, errors.ConfigInvalid(fmt.Sprintf("expected exactly 2 models, got %d", len(models)))
	}
	if models[0] == models[1] {
		return nil, errors.ConfigInvalid("the two comparison models must differ")
	}
	return &Registry{models: models}, nil
}

// Models returns the configured pair.
func (r *Registry) Models() []string {
	out := make([]string, len(r.models))
	copy(out, r.models)
	return out
}

// Contains reports whether id is one of the configured models.
func (r *Registry) Contains(id string) bool {
	for _, m := range r.models {
		if m == id {
			return true
		}
	}
	return false
}

// SelectRandom picks the slot-A model at random.
func (r *Registry) SelectRandom() string {
	if r.rng != nil {
		return r.models[r.rng.Intn(len(r.models))]
	}
	return r.models[rand.Intn(len(r.models))]
}

// Opposite returns the pair member that is not modelID.
func (r *Registry) Opposite(modelID string) (string, error) {
	for _, m := range r.models {
		if m != modelID {
			return m, nil
		}
	}
	return "", errors.ConfigInvalid(fmt.Sprintf("no opposite model for %s", modelID))
}

// SeedForTest pins the random source. Test use only.
func (r *Registry) SeedForTest(seed int64) {
	r.rng = rand.New(rand.NewSource(seed))
}

// LoadAPIKey returns the Anthropic API key from the environment or the
// first readable key file candidate.
func LoadAPIKey() (string, error) {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		return key, nil
	}

	candidates, err := paths.APIKeyCandidatePaths()
	if err != nil {
		return "", err
	}
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, nil
		}
	}
	return "", errors.APIKeyNotFound()
}

// StoreAPIKey writes the key to path with owner-only permissions. The key
// never goes anywhere inside the repository.
func StoreAPIKey(path, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.ConfigInvalid("empty API key")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	// WriteFile perm only applies on create; tighten pre-existing files too
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to restrict key file permissions: %w", err)
	}
	logger.WithComponent("claude").Info("API key stored", "path", path)
	return nil
}

// LaunchDisabled reports whether the environment suppresses real launches.
func LaunchDisabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(LaunchDisabledEnv))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// placeholderTranscript is written instead of a real capture when the
// launch is disabled.
const placeholderTranscript = "[dry-run] assistant session launch skipped. Unset " + LaunchDisabledEnv + " to enable.\n"

// Launcher starts interactive assistant sessions.
type Launcher struct {
	executor dexec.CommandExecutor
	lookPath func(string) (string, error)
}

// NewLauncher builds a Launcher with the real executor.
func NewLauncher() *Launcher {
	return &Launcher{executor: dexec.NewRealExecutor(), lookPath: osexec.LookPath}
}

// NewLauncherWithExecutor builds a Launcher for tests. lookPath may be nil
// to use the real PATH lookup.
func NewLauncherWithExecutor(exec dexec.CommandExecutor, lookPath func(string) (string, error)) *Launcher {
	if lookPath == nil {
		lookPath = osexec.LookPath
	}
	return &Launcher{executor: exec, lookPath: lookPath}
}

// Launch runs `claude --model <id>` in repoPath, attached to the
// operator's terminal, preferring script(1) so the full session lands in
// transcriptPath. Returns (captured, err): captured is false when the
// session ran without transcript capture.
func (l *Launcher) Launch(ctx context.Context, repoPath, modelID, transcriptPath string) (bool, error) {
	log := logger.WithComponent("claude")

	if LaunchDisabled() {
		if err := os.MkdirAll(filepath.Dir(transcriptPath), 0755); err != nil {
			return false, errors.LaunchFailed(modelID, err)
		}
		if err := os.WriteFile(transcriptPath, []byte(placeholderTranscript), 0644); err != nil {
			return false, errors.LaunchFailed(modelID, err)
		}
		log.Info("launch disabled, placeholder transcript written", "path", transcriptPath)
		return true, nil
	}

	if _, err := l.lookPath("claude"); err != nil {
		return false, errors.CLINotFound("claude")
	}

	key, err := LoadAPIKey()
	if err != nil {
		return false, err
	}
	env := []string{APIKeyEnv + "=" + key}

	if _, err := l.lookPath("script"); err == nil {
		if err := os.MkdirAll(filepath.Dir(transcriptPath), 0755); err != nil {
			return false, errors.LaunchFailed(modelID, err)
		}
		log.Info("launching assistant with transcript capture", "model", modelID, "transcript", transcriptPath)
		err := l.executor.Interactive(ctx, repoPath, env, "script", "-q", transcriptPath, "claude", "--model", modelID)
		if err != nil {
			return false, errors.LaunchFailed(modelID, err)
		}
		return true, nil
	}

	log.Warn("script not found, launching without transcript capture", "model", modelID)
	if err := l.executor.Interactive(ctx, repoPath, env, "claude", "--model", modelID); err != nil {
		return false, errors.LaunchFailed(modelID, err)
	}
	return false, nil
}
