package claude

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	duerrors "github.com/zhubert/duet/internal/errors"
	dexec "github.com/zhubert/duet/internal/exec"
	"github.com/zhubert/duet/internal/paths"
)

// resetHome isolates key-file lookups from the real home directory.
func resetHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(APIKeyEnv, "")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	t.Cleanup(paths.Reset)
	return home
}

func TestNewRegistry_Defaults(t *testing.T) {
	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reg.Models()) != 2 {
		t.Errorf("expected 2 default models, got %d", len(reg.Models()))
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	if _, err := NewRegistry([]string{"only-one"}); err == nil {
		t.Error("expected error for single model")
	}
	if _, err := NewRegistry([]string{"same", "same"}); err == nil {
		t.Error("expected error for identical models")
	}
	if _, err := NewRegistry([]string{"a", "b", "c"}); err == nil {
		t.Error("expected error for three models")
	}
}

func TestRegistry_SelectRandom(t *testing.T) {
	reg, err := NewRegistry([]string{"model-one", "model-two"})
	if err != nil {
		t.Fatal(err)
	}
	reg.SeedForTest(42)

	seen := make(map[string]bool)
	for range 50 {
		seen[reg.SelectRandom()] = true
	}
	if !seen["model-one"] || !seen["model-two"] {
		t.Errorf("random selection should eventually pick both models, saw %v", seen)
	}
}

func TestRegistry_Opposite(t *testing.T) {
	reg, err := NewRegistry([]string{"model-one", "model-two"})
	if err != nil {
		t.Fatal(err)
	}

	opp, err := reg.Opposite("model-one")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opp != "model-two" {
		t.Errorf("expected model-two, got %s", opp)
	}

	opp, err = reg.Opposite("model-two")
	if err != nil {
		t.Fatal(err)
	}
	if opp != "model-one" {
		t.Errorf("expected model-one, got %s", opp)
	}
}

func TestRegistry_Contains(t *testing.T) {
	reg, _ := NewRegistry([]string{"model-one", "model-two"})
	if !reg.Contains("model-one") {
		t.Error("expected Contains to find configured model")
	}
	if reg.Contains("model-three") {
		t.Error("unconfigured model should not be found")
	}
}

func TestLoadAPIKey_Env(t *testing.T) {
	t.Setenv(APIKeyEnv, "  sk-test-from-env  ")

	key, err := LoadAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-test-from-env" {
		t.Errorf("expected trimmed env key, got %q", key)
	}
}

func TestLoadAPIKey_File(t *testing.T) {
	home := resetHome(t)

	keyFile := filepath.Join(home, ".claude", "api_key")
	if err := os.MkdirAll(filepath.Dir(keyFile), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, []byte("sk-test-from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	key, err := LoadAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-test-from-file" {
		t.Errorf("expected file key, got %q", key)
	}
}

func TestLoadAPIKey_Missing(t *testing.T) {
	resetHome(t)

	_, err := LoadAPIKey()
	if err == nil {
		t.Fatal("expected error with no key anywhere")
	}
	if !duerrors.Is(err, duerrors.KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", duerrors.GetKind(err))
	}
}

func TestStoreAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "api_key")

	if err := StoreAPIKey(path, "  sk-test-stored  "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "sk-test-stored\n" {
		t.Errorf("key should be trimmed with trailing newline, got %q", string(data))
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("key file should be 0600, got %o", info.Mode().Perm())
		}
	}
}

func TestStoreAPIKey_TightensExistingFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on windows")
	}
	path := filepath.Join(t.TempDir(), "api_key")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := StoreAPIKey(path, "sk-test-new"); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("existing key file should be tightened to 0600, got %o", info.Mode().Perm())
	}
}

func TestStoreAPIKey_EmptyKey(t *testing.T) {
	if err := StoreAPIKey(filepath.Join(t.TempDir(), "api_key"), "   "); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestLaunchDisabled(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes"} {
		t.Setenv(LaunchDisabledEnv, v)
		if !LaunchDisabled() {
			t.Errorf("value %q should disable launch", v)
		}
	}
	for _, v := range []string{"", "0", "false", "no"} {
		t.Setenv(LaunchDisabledEnv, v)
		if LaunchDisabled() {
			t.Errorf("value %q should not disable launch", v)
		}
	}
}

func TestLaunch_DisabledWritesPlaceholder(t *testing.T) {
	t.Setenv(LaunchDisabledEnv, "1")

	mock := dexec.NewMockExecutor(nil)
	launcher := NewLauncherWithExecutor(mock, nil)
	transcriptPath := filepath.Join(t.TempDir(), "session", "claude_transcript.log")

	captured, err := launcher.Launch(context.Background(), t.TempDir(), "model-one", transcriptPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !captured {
		t.Error("placeholder counts as captured")
	}

	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		t.Fatalf("placeholder transcript should exist: %v", err)
	}
	if !strings.Contains(string(data), "dry-run") {
		t.Errorf("unexpected placeholder content: %q", string(data))
	}

	if len(mock.GetCalls()) != 0 {
		t.Error("no process should be launched when disabled")
	}
}

func TestLaunch_PrefersScriptCapture(t *testing.T) {
	t.Setenv(LaunchDisabledEnv, "")
	t.Setenv(APIKeyEnv, "sk-test-key")

	mock := dexec.NewMockExecutor(nil)
	lookPath := func(name string) (string, error) { return "/usr/bin/" + name, nil }
	launcher := NewLauncherWithExecutor(mock, lookPath)
	transcriptPath := filepath.Join(t.TempDir(), "claude_transcript.log")

	captured, err := launcher.Launch(context.Background(), "/repo", "model-one", transcriptPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !captured {
		t.Error("script path should report capture")
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 launch call, got %d", len(calls))
	}
	call := calls[0]
	if call.Name != "script" {
		t.Errorf("expected script wrapper, got %q", call.Name)
	}
	if !call.Interactive {
		t.Error("launch must be interactive")
	}
	want := []string{"-q", transcriptPath, "claude", "--model", "model-one"}
	if len(call.Args) != len(want) {
		t.Fatalf("unexpected args: %v", call.Args)
	}
	for i, arg := range want {
		if call.Args[i] != arg {
			t.Errorf("arg %d: expected %q, got %q", i, arg, call.Args[i])
		}
	}
}

func TestLaunch_FallsBackToDirectClaude(t *testing.T) {
	t.Setenv(LaunchDisabledEnv, "")
	t.Setenv(APIKeyEnv, "sk-test-key")

	mock := dexec.NewMockExecutor(nil)
	lookPath := func(name string) (string, error) {
		if name == "script" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}
	launcher := NewLauncherWithExecutor(mock, lookPath)

	captured, err := launcher.Launch(context.Background(), "/repo", "model-one", filepath.Join(t.TempDir(), "t.log"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured {
		t.Error("direct launch cannot capture a transcript")
	}

	calls := mock.GetCalls()
	if len(calls) != 1 || calls[0].Name != "claude" {
		t.Fatalf("expected direct claude call, got %v", calls)
	}
}

func TestLaunch_ClaudeMissing(t *testing.T) {
	t.Setenv(LaunchDisabledEnv, "")

	lookPath := func(name string) (string, error) { return "", errors.New("not found") }
	launcher := NewLauncherWithExecutor(dexec.NewMockExecutor(nil), lookPath)

	_, err := launcher.Launch(context.Background(), "/repo", "model-one", filepath.Join(t.TempDir(), "t.log"))
	if err == nil {
		t.Fatal("expected error when claude is missing")
	}
	if !duerrors.Is(err, duerrors.KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", duerrors.GetKind(err))
	}
}

func TestLaunch_NoAPIKey(t *testing.T) {
	resetHome(t)
	t.Setenv(LaunchDisabledEnv, "")

	lookPath := func(name string) (string, error) { return "/usr/bin/" + name, nil }
	launcher := NewLauncherWithExecutor(dexec.NewMockExecutor(nil), lookPath)

	_, err := launcher.Launch(context.Background(), "/repo", "model-one", filepath.Join(t.TempDir(), "t.log"))
	if err == nil {
		t.Fatal("expected error with no API key")
	}
}
