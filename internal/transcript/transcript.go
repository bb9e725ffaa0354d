// Package transcript locates and parses terminal session logs captured
// while the annotator worked with the assistant. Raw logs are full of ANSI
// escapes and TUI chrome; the parser reduces them to an ordered list of
// human, agent, and tool-call entries.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zhubert/duet/internal/errors"
	"github.com/zhubert/duet/internal/logger"
)

// Entry roles.
const (
	RoleHuman    = "human"
	RoleAgent    = "agent"
	RoleToolCall = "tool_call"
)

// Entry is one turn of the captured conversation.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DefaultLogName is the transcript file written into the session directory.
const DefaultLogName = "claude_transcript.log"

// Locate returns the first existing non-empty transcript source for a
// session. Candidates are tried in order: the session directory's own log,
// the repository root log, then any configured extras.
func Locate(sessionDir, repoPath string, extras []string) (string, error) {
	candidates := []string{
		filepath.Join(sessionDir, DefaultLogName),
		filepath.Join(repoPath, DefaultLogName),
	}
	candidates = append(candidates, extras...)

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		return candidate, nil
	}
	return "", errors.TranscriptNotFound(filepath.Base(sessionDir))
}

// ParseFile reads and parses a transcript log. Returns the parsed entries
// and the raw cleaned content; a file that yields no entries is not an
// error — the caller decides how to degrade.
func ParseFile(path string) ([]Entry, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read transcript %s: %w", path, err)
	}
	cleaned := Clean(string(data))
	entries := Parse(cleaned)
	logger.WithComponent("transcript").Debug("transcript parsed", "path", path, "entries", len(entries))
	return entries, cleaned, nil
}

var (
	ansiEscape = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

	// literal escape fragments that survive in script(1) captures
	literalTerminalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[\?[0-9]+[hl]`),
		regexp.MustCompile(`\[38;2;[0-9]+;[0-9]+;[0-9]+m`),
		regexp.MustCompile(`\[39m|\[49m`),
		regexp.MustCompile(`\[1m|\[22m|\[2m|\[23m|\[3m|\[4m|\[24m|\[7m|\[27m`),
		regexp.MustCompile(`\[[0-9;]+m`),
		regexp.MustCompile(`\]0;[^\\]*\\`),
	}

	controlChars = regexp.MustCompile(`[\x00-\x08\x0B-\x1F\x{7F}-\x{9F}]`)
	boxDrawing   = regexp.MustCompile(`[╭╮│╰╯─═║┌┐└┘├┤┬┴┼]`)
	multiSpace   = regexp.MustCompile(`  +`)
	multiNewline = regexp.MustCompile(`\n\s*\n\s*\n+`)

	markerPrefix = regexp.MustCompile(`^[⏺✻·✽✶✳✢]\s*`)
	toolCallExpr = regexp.MustCompile(`^(\w+)\(([^)]*)\)$`)

	statusNoise = regexp.MustCompile(`(\.\.\.|…|ing…|esc to interrupt|Forging|Transfiguring|Ideating|Combobulating|Crunching|Accomplishing|Waiting|Running|Total cost|Total duration|Usage by model|ctrl\+o to expand|\(.+\s+tokens\)|\(.+\s+lines\)|Found \d+ files|Found \d+ lines|Found \d+ matches|No content|Error:|Done \()`)
)

// Clean strips ANSI escapes, control characters, and box-drawing chrome
// from raw terminal output. The ⎿ tool-result marker is kept.
func Clean(content string) string {
	cleaned := ansiEscape.ReplaceAllString(content, "")
	for _, pattern := range literalTerminalPatterns {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	cleaned = controlChars.ReplaceAllString(cleaned, "")
	cleaned = boxDrawing.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, "(B", "")
	cleaned = multiSpace.ReplaceAllString(cleaned, " ")
	cleaned = multiNewline.ReplaceAllString(cleaned, "\n\n")
	return cleaned
}

type toolCall struct {
	name       string
	parameters string
	output     string
}

func (tc *toolCall) content() string {
	if tc.output == "" {
		return fmt.Sprintf("%s(%s)", tc.name, tc.parameters)
	}
	result := tc.output
	if len(result) > 100 {
		result = result[:100] + "..."
	}
	return fmt.Sprintf("%s(%s) → %s", tc.name, tc.parameters, result)
}

// Parse categorizes cleaned transcript lines into ordered entries.
// Duplicate turns (the TUI redraws its scrollback) are collapsed.
func Parse(cleaned string) []Entry {
	var transcript []Entry
	seen := make(map[string]bool)

	emit := func(role, content string) {
		if seen[content] {
			return
		}
		seen[content] = true
		transcript = append(transcript, Entry{Role: role, Content: content})
	}

	var currentHuman []string
	var currentAI []string
	var currentTool *toolCall

	flushHuman := func() {
		if len(currentHuman) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(currentHuman, " "))
		if len(text) > 1 {
			emit(RoleHuman, text)
		}
		currentHuman = nil
	}
	flushAI := func() {
		if len(currentAI) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(currentAI, " "))
		if len(text) > 10 && !statusNoise.MatchString(text) {
			emit(RoleAgent, text)
		}
		currentAI = nil
	}
	flushTool := func() {
		if currentTool == nil {
			return
		}
		emit(RoleToolCall, currentTool.content())
		currentTool = nil
	}

	for _, rawLine := range strings.Split(cleaned, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "> "):
			flushAI()
			currentHuman = []string{strings.TrimSpace(line[2:])}

		case markerPrefix.MatchString(line):
			flushHuman()
			flushTool()

			content := strings.TrimSpace(markerPrefix.ReplaceAllString(line, ""))
			if len(content) <= 5 || statusNoise.MatchString(content) {
				continue
			}
			if m := toolCallExpr.FindStringSubmatch(content); m != nil {
				flushAI()
				currentTool = &toolCall{name: m[1], parameters: m[2]}
			} else {
				currentAI = append(currentAI, content)
			}

		case strings.HasPrefix(line, "⎿") && currentTool != nil:
			result := strings.TrimSpace(strings.TrimPrefix(line, "⎿"))
			if currentTool.output != "" {
				currentTool.output += "\n" + result
			} else {
				currentTool.output = result
			}

		case strings.HasPrefix(line, "⎿"):
			// stray tool result with no open tool call

		case len(currentHuman) > 0 && len(currentAI) == 0 && len(line) > 3:
			currentHuman = append(currentHuman, line)

		case len(currentAI) > 0 && !statusNoise.MatchString(line) && len(line) > 3:
			currentAI = append(currentAI, line)
		}
	}

	flushHuman()
	flushTool()
	flushAI()

	return transcript
}

// TurnCount returns the number of human turns in a transcript.
func TurnCount(entries []Entry) int {
	count := 0
	for _, entry := range entries {
		if entry.Role == RoleHuman {
			count++
		}
	}
	return count
}
