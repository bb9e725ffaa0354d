// Package errors provides structured error types for the Duet application.
// These errors provide context about what operation failed and where.
package errors

import (
	"errors"
	"fmt"
)

// Op describes an operation, usually as "package.function".
type Op string

// Kind categorizes the type of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindPermission
	KindIO
	KindConfig
	KindGit
	KindLaunch
	KindState
	KindSecret
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalid:
		return "invalid"
	case KindPermission:
		return "permission denied"
	case KindIO:
		return "I/O error"
	case KindConfig:
		return "configuration error"
	case KindGit:
		return "git error"
	case KindLaunch:
		return "launch error"
	case KindState:
		return "session state error"
	case KindSecret:
		return "secret detected"
	default:
		return "unknown error"
	}
}

// Error is the structured error type for Duet.
type Error struct {
	Op      Op     // Operation that failed
	Kind    Kind   // Category of error
	Err     error  // Underlying error
	Context string // Additional context
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Context, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - string: context message
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case string:
			e.Context = a
		case error:
			e.Err = a
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Context)
		e.Context = ""
	}
	return e
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetKind returns the Kind of an error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Session errors
func NoActiveSession(slot string) error {
	return E(Op("session.LoadActive"), KindState, fmt.Sprintf("no active session for slot %s", slot))
}

func SessionDirExists(path string) error {
	return E(Op("session.Create"), KindState, fmt.Sprintf("session directory %s already exists", path))
}

func SessionWrongStage(id, got, want string) error {
	return E(Op("session.Validate"), KindState, fmt.Sprintf("session %s is in stage %s, expected %s", id, got, want))
}

func MetadataWriteFailed(path string, err error) error {
	return E(Op("session.Save"), KindIO, fmt.Sprintf("failed to write session metadata to %s", path), err)
}

// Config errors
func ConfigLoadFailed(path string, err error) error {
	return E(Op("config.Load"), KindConfig, fmt.Sprintf("failed to load config from %s", path), err)
}

func ConfigInvalid(reason string) error {
	return E(Op("config.Validate"), KindInvalid, reason)
}

// Git errors
func GitNotRepo(path string) error {
	return E(Op("git.ValidateRepo"), KindInvalid, fmt.Sprintf("%s is not a git repository", path))
}

func GitDiffFailed(err error) error {
	return E(Op("git.Diff"), KindGit, "failed to capture diff", err)
}

func GitResetFailed(err error) error {
	return E(Op("git.ResetHard"), KindGit, "failed to reset working tree", err)
}

// Secret errors
func SecretInDiff(pattern string) error {
	return E(Op("git.Diff"), KindSecret, fmt.Sprintf("diff contains content matching secret pattern %q", pattern))
}

// Launch errors
func LaunchFailed(model string, err error) error {
	return E(Op("claude.Launch"), KindLaunch, fmt.Sprintf("failed to launch assistant session for model %s", model), err)
}

// Snapshot errors
func SnapshotFailed(dest string, err error) error {
	return E(Op("snapshot.Capture"), KindIO, fmt.Sprintf("failed to capture snapshot to %s", dest), err)
}

// Transcript errors
func TranscriptNotFound(sessionID string) error {
	return E(Op("transcript.Locate"), KindNotFound, fmt.Sprintf("no transcript source found for session %s", sessionID))
}

// API key errors
func APIKeyNotFound() error {
	return E(Op("claude.LoadAPIKey"), KindNotFound, "no API key found; run 'duet configure-key' or set ANTHROPIC_API_KEY")
}

// CLI prerequisite errors
func CLINotFound(name string) error {
	return E(Op("cli.Check"), KindNotFound, fmt.Sprintf("required CLI tool '%s' not found in PATH", name))
}
