package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	duerrors "github.com/zhubert/duet/internal/errors"
)

const sampleTranscript = `> Fix the failing test in parser_test.go

⏺ I'll look at the failing test first to understand what's expected.

⏺ Read(parser_test.go)
  ⎿ Read 120 lines

⏺ The test expects the parser to skip blank lines. I'll update the loop
  to continue on empty input before tokenizing.

⏺ Edit(parser.go)
  ⎿ Updated parser.go with 3 additions and 1 removal

> Looks good, run the tests again please

⏺ Bash(go test ./...)
  ⎿ ok example.com/parser 0.21s

⏺ All tests pass now. The blank-line handling was the only failure.
`

func TestParse_Roles(t *testing.T) {
	entries := Parse(sampleTranscript)

	var humans, agents, tools int
	for _, e := range entries {
		switch e.Role {
		case RoleHuman:
			humans++
		case RoleAgent:
			agents++
		case RoleToolCall:
			tools++
		default:
			t.Errorf("unexpected role %q", e.Role)
		}
	}

	if humans != 2 {
		t.Errorf("expected 2 human turns, got %d", humans)
	}
	if tools != 3 {
		t.Errorf("expected 3 tool calls, got %d", tools)
	}
	if agents < 2 {
		t.Errorf("expected at least 2 agent entries, got %d", agents)
	}
}

func TestParse_Order(t *testing.T) {
	entries := Parse(sampleTranscript)
	if len(entries) == 0 {
		t.Fatal("expected entries")
	}
	if entries[0].Role != RoleHuman {
		t.Errorf("first entry should be human, got %s", entries[0].Role)
	}
	if !strings.Contains(entries[0].Content, "parser_test.go") {
		t.Errorf("unexpected first entry content: %q", entries[0].Content)
	}
}

func TestParse_ToolResultFolding(t *testing.T) {
	entries := Parse(sampleTranscript)

	found := false
	for _, e := range entries {
		if e.Role == RoleToolCall && strings.HasPrefix(e.Content, "Read(parser_test.go)") {
			found = true
			if !strings.Contains(e.Content, "→ Read 120 lines") {
				t.Errorf("tool result should be folded into the call: %q", e.Content)
			}
		}
	}
	if !found {
		t.Error("expected a Read tool call entry")
	}
}

func TestParse_DeduplicatesRedraws(t *testing.T) {
	doubled := sampleTranscript + "\n" + sampleTranscript
	once := Parse(sampleTranscript)
	twice := Parse(doubled)
	if len(once) != len(twice) {
		t.Errorf("redrawn scrollback should be deduplicated: %d vs %d entries", len(once), len(twice))
	}
}

func TestParse_FiltersStatusNoise(t *testing.T) {
	noisy := `> do the thing

✶ Combobulating… (esc to interrupt)
⏺ Crunching… (3.2k tokens)
⏺ Working on the implementation as requested, starting with the data model.
`
	entries := Parse(noisy)
	for _, e := range entries {
		if strings.Contains(e.Content, "Combobulating") || strings.Contains(e.Content, "Crunching") {
			t.Errorf("status noise should be filtered: %q", e.Content)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	if entries := Parse(""); len(entries) != 0 {
		t.Errorf("empty input should yield no entries, got %d", len(entries))
	}
}

func TestClean_StripsANSI(t *testing.T) {
	raw := "\x1b[1m\x1b[38;2;215;119;87mhello\x1b[39m\x1b[22m world"
	cleaned := Clean(raw)
	if strings.Contains(cleaned, "\x1b") {
		t.Errorf("escape bytes should be removed: %q", cleaned)
	}
	if !strings.Contains(cleaned, "hello") || !strings.Contains(cleaned, "world") {
		t.Errorf("text content should survive cleaning: %q", cleaned)
	}
}

func TestClean_StripsLiteralCodesAndBoxes(t *testing.T) {
	raw := "[?25l[38;2;1;2;3m╭──╮\n│ > hi │\n╰──╯[?25h"
	cleaned := Clean(raw)
	for _, banned := range []string{"[?25l", "[38;2", "╭", "│", "╰"} {
		if strings.Contains(cleaned, banned) {
			t.Errorf("cleaned output still contains %q: %q", banned, cleaned)
		}
	}
	if !strings.Contains(cleaned, "> hi") {
		t.Errorf("prompt text should survive: %q", cleaned)
	}
}

func TestClean_KeepsToolResultMarker(t *testing.T) {
	cleaned := Clean("⎿ Read 12 lines")
	if !strings.Contains(cleaned, "⎿") {
		t.Error("tool result marker must survive cleaning")
	}
}

func TestLocate_PrefersSessionDir(t *testing.T) {
	sessionDir := t.TempDir()
	repoDir := t.TempDir()

	sessionLog := filepath.Join(sessionDir, DefaultLogName)
	repoLog := filepath.Join(repoDir, DefaultLogName)
	os.WriteFile(sessionLog, []byte("session copy"), 0644)
	os.WriteFile(repoLog, []byte("repo copy"), 0644)

	path, err := Locate(sessionDir, repoDir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != sessionLog {
		t.Errorf("expected session dir log, got %q", path)
	}
}

func TestLocate_SkipsEmptyFiles(t *testing.T) {
	sessionDir := t.TempDir()
	repoDir := t.TempDir()

	os.WriteFile(filepath.Join(sessionDir, DefaultLogName), nil, 0644)
	repoLog := filepath.Join(repoDir, DefaultLogName)
	os.WriteFile(repoLog, []byte("repo copy"), 0644)

	path, err := Locate(sessionDir, repoDir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != repoLog {
		t.Errorf("empty session log should be skipped, got %q", path)
	}
}

func TestLocate_ConfiguredExtras(t *testing.T) {
	extra := filepath.Join(t.TempDir(), "alt.log")
	os.WriteFile(extra, []byte("alternate"), 0644)

	path, err := Locate(t.TempDir(), t.TempDir(), []string{extra})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != extra {
		t.Errorf("expected extra candidate, got %q", path)
	}
}

func TestLocate_NotFound(t *testing.T) {
	_, err := Locate(t.TempDir(), t.TempDir(), nil)
	if err == nil {
		t.Fatal("expected error when no source exists")
	}
	if !duerrors.Is(err, duerrors.KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", duerrors.GetKind(err))
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultLogName)
	if err := os.WriteFile(path, []byte(sampleTranscript), 0644); err != nil {
		t.Fatal(err)
	}

	entries, cleaned, err := ParseFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected parsed entries")
	}
	if cleaned == "" {
		t.Error("expected cleaned content")
	}
}

func TestTurnCount(t *testing.T) {
	entries := []Entry{
		{Role: RoleHuman, Content: "first"},
		{Role: RoleAgent, Content: "reply"},
		{Role: RoleToolCall, Content: "Read(x)"},
		{Role: RoleHuman, Content: "second"},
	}
	if got := TurnCount(entries); got != 2 {
		t.Errorf("expected 2 turns, got %d", got)
	}
}
