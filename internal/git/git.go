// Package git inspects and manipulates the annotated repository: commit
// lookup, dirty checks, diff capture against a base commit, and hard resets
// between model runs.
package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zhubert/duet/internal/errors"
	dexec "github.com/zhubert/duet/internal/exec"
	"github.com/zhubert/duet/internal/logger"
)

// sensitivePatterns match API credentials that must never land in a
// captured diff.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sk-(?:ant|live|test)[a-z0-9_-]{10,}`),
	regexp.MustCompile(`(?i)anthropic[_-]?api[_-]?key`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]`),
}

// Service provides git operations with explicit dependency injection.
// Each Service instance holds its own executor, enabling proper testing
// and avoiding global state.
type Service struct {
	executor dexec.CommandExecutor
}

// NewService creates a new Service with the default real executor.
func NewService() *Service {
	return &Service{executor: dexec.NewRealExecutor()}
}

// NewServiceWithExecutor creates a new Service with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewServiceWithExecutor(exec dexec.CommandExecutor) *Service {
	return &Service{executor: exec}
}

// ValidateRepo checks that repoPath is the root of a git repository.
func (s *Service) ValidateRepo(ctx context.Context, repoPath string) error {
	output, err := s.executor.Output(ctx, repoPath, "git", "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(string(output)) != "true" {
		return errors.GitNotRepo(repoPath)
	}
	return nil
}

// CurrentCommit returns the full hash of HEAD.
func (s *Service) CurrentCommit(ctx context.Context, repoPath string) (string, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current commit: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// IsDirty reports whether the working tree has uncommitted changes,
// including untracked files.
func (s *Service) IsDirty(ctx context.Context, repoPath string) (bool, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// UntrackedFiles returns paths with "??" status, relative to the repo root.
func (s *Service) UntrackedFiles(ctx context.Context, repoPath string) ([]string, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	var files []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "?? ") {
			path := strings.TrimSpace(line[3:])
			if path != "" {
				files = append(files, path)
			}
		}
	}
	return files, nil
}

// Diff captures the full patch between baseCommit and the current tree,
// including untracked files, with excludeTokens filtered out. Returns an
// error of KindSecret if the patch matches a credential pattern.
func (s *Service) Diff(ctx context.Context, repoPath, baseCommit string, excludeTokens []string) (string, error) {
	log := logger.WithComponent("git")

	tracked, _, err := s.executor.Run(ctx, repoPath, "git", "diff", "--binary", baseCommit)
	if err != nil {
		return "", errors.GitDiffFailed(err)
	}

	segments := []string{string(tracked)}

	untracked, err := s.UntrackedFiles(ctx, repoPath)
	if err != nil {
		return "", errors.GitDiffFailed(err)
	}
	for _, file := range untracked {
		// git diff --no-index exits 1 when the files differ, which is
		// the expected outcome here
		segment, _, _ := s.executor.Run(ctx, repoPath, "git", "diff", "--binary", "--no-index", "--", "/dev/null", file)
		if strings.TrimSpace(string(segment)) != "" {
			segments = append(segments, string(segment))
		}
	}

	combined := strings.Join(segments, "")
	filtered := filterDiff(combined, excludeTokens)

	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(filtered) {
			log.Warn("secret pattern detected in diff, refusing to capture")
			return "", errors.SecretInDiff(pattern.String())
		}
	}

	log.Debug("diff captured", "bytes", len(filtered), "untrackedFiles", len(untracked))
	return filtered, nil
}

// WriteDiff captures the diff against baseCommit and writes it to path.
// An empty diff still produces the file.
func (s *Service) WriteDiff(ctx context.Context, repoPath, baseCommit, path string, excludeTokens []string) error {
	diff, err := s.Diff(ctx, repoPath, baseCommit, excludeTokens)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create diff directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(diff), 0644); err != nil {
		return fmt.Errorf("failed to write diff to %s: %w", path, err)
	}
	return nil
}

// ChangedFileCount returns the number of files changed since baseCommit,
// counting untracked files.
func (s *Service) ChangedFileCount(ctx context.Context, repoPath, baseCommit string) (int, error) {
	output, _, err := s.executor.Run(ctx, repoPath, "git", "diff", "--name-only", baseCommit)
	if err != nil {
		return 0, errors.GitDiffFailed(err)
	}

	count := 0
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			count++
		}
	}

	untracked, err := s.UntrackedFiles(ctx, repoPath)
	if err != nil {
		return 0, err
	}
	return count + len(untracked), nil
}

// ResetHard resets the working tree to baseCommit and removes untracked
// files, backing up and restoring preserveFiles so workflow artifacts
// survive the reset. The backup lives outside the repo and is removed on
// every path.
func (s *Service) ResetHard(ctx context.Context, repoPath, baseCommit string, preserveFiles []string) error {
	log := logger.WithComponent("git")
	log.Info("resetting working tree", "commit", baseCommit)

	backupDir := filepath.Join(filepath.Dir(repoPath), ".duet_preserve_backup")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return errors.GitResetFailed(err)
	}
	defer os.RemoveAll(backupDir)

	backed := make([]string, 0, len(preserveFiles))
	for _, name := range preserveFiles {
		src := filepath.Join(repoPath, name)
		data, err := os.ReadFile(src)
		if err != nil {
			continue
		}
		if err := os.WriteFile(filepath.Join(backupDir, filepath.Base(name)), data, 0644); err != nil {
			return errors.GitResetFailed(err)
		}
		backed = append(backed, name)
	}

	if _, stderr, err := s.executor.Run(ctx, repoPath, "git", "reset", "--hard", baseCommit); err != nil {
		return errors.GitResetFailed(fmt.Errorf("%w: %s", err, strings.TrimSpace(string(stderr))))
	}
	if _, stderr, err := s.executor.Run(ctx, repoPath, "git", "clean", "-fd"); err != nil {
		return errors.GitResetFailed(fmt.Errorf("%w: %s", err, strings.TrimSpace(string(stderr))))
	}

	for _, name := range backed {
		data, err := os.ReadFile(filepath.Join(backupDir, filepath.Base(name)))
		if err != nil {
			continue
		}
		dest := filepath.Join(repoPath, name)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return errors.GitResetFailed(err)
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return errors.GitResetFailed(err)
		}
	}

	log.Info("working tree reset", "commit", baseCommit, "preserved", len(backed))
	return nil
}

// filterDiff removes per-file blocks whose "diff --git" header mentions
// any of the exclude tokens.
func filterDiff(diff string, excludeTokens []string) string {
	if strings.TrimSpace(diff) == "" {
		return diff
	}

	var out []string
	skip := false
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "diff --git") {
			skip = false
			for _, token := range excludeTokens {
				if strings.Contains(line, token) {
					skip = true
					break
				}
			}
		}
		if !skip {
			out = append(out, line)
		}
	}

	if len(out) == 0 {
		return ""
	}
	result := strings.Join(out, "\n")
	if !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	return result
}
