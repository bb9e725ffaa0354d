// Package snapshot copies repository working trees into session snapshot
// directories. It prefers rsync for speed and delete-sync semantics and
// falls back to a manual recursive copy when rsync is not installed.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"

	duerrors "github.com/zhubert/duet/internal/errors"
	dexec "github.com/zhubert/duet/internal/exec"
	"github.com/zhubert/duet/internal/logger"
)

// DefaultExcludes are the patterns skipped in every snapshot unless the
// repo config overrides them.
var DefaultExcludes = []string{
	".git",
	"node_modules",
	"__pycache__",
	".claude",
	"*.key",
	"*.pem",
}

// Service copies working trees through an injected executor so tests can
// observe or suppress the rsync invocation.
type Service struct {
	executor dexec.CommandExecutor
}

// NewService creates a Service backed by the real executor.
func NewService() *Service {
	return &Service{executor: dexec.NewRealExecutor()}
}

// NewServiceWithExecutor creates a Service with a custom executor.
func NewServiceWithExecutor(exec dexec.CommandExecutor) *Service {
	return &Service{executor: exec}
}

// CopyTree snapshots source into dest, applying the exclude patterns.
// dest is created if missing. When rsync is absent the fallback copy runs;
// only a failed fallback is an error.
func (s *Service) CopyTree(ctx context.Context, source, dest string, excludes []string) error {
	log := logger.WithComponent("snapshot")

	if len(excludes) == 0 {
		excludes = DefaultExcludes
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return duerrors.SnapshotFailed(dest, err)
	}

	args := []string{"-a", "--delete", "--safe-links"}
	for _, pattern := range excludes {
		args = append(args, "--exclude="+pattern)
	}
	// trailing slash: copy contents, not the directory itself
	args = append(args, source+string(os.PathSeparator), dest)

	_, stderr, err := s.executor.Run(ctx, source, "rsync", args...)
	if err == nil {
		log.Debug("snapshot captured via rsync", "dest", dest)
		return nil
	}

	var execErr *osexec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, osexec.ErrNotFound) {
		log.Warn("rsync not found, falling back to manual copy", "dest", dest)
		if copyErr := copyTreeManual(source, dest, excludes); copyErr != nil {
			return duerrors.SnapshotFailed(dest, copyErr)
		}
		return nil
	}

	return duerrors.SnapshotFailed(dest, fmt.Errorf("rsync failed: %w: %s", err, strings.TrimSpace(string(stderr))))
}

// CountFiles returns the number of regular files under dir.
func CountFiles(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// copyTreeManual is the rsync-free fallback. It clears dest first so the
// result matches rsync's --delete behavior.
func copyTreeManual(source, dest string, excludes []string) error {
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	return filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded(rel, d.Name(), excludes) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			// symlinks and devices are skipped, matching --safe-links
			return nil
		}
		return copyFile(path, target)
	})
}

func excluded(rel, name string, excludes []string) bool {
	for _, pattern := range excludes {
		if pattern == name || pattern == rel {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
