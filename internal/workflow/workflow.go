// Package workflow sequences the three annotation stages: initialize the
// slot-A session, transition from A to B, and finalize B. Each stage is a
// plain function over injected dependencies so the cobra commands and the
// in-process orchestrator share one implementation.
package workflow

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhubert/duet/internal/claude"
	"github.com/zhubert/duet/internal/config"
	"github.com/zhubert/duet/internal/errors"
	"github.com/zhubert/duet/internal/git"
	"github.com/zhubert/duet/internal/logger"
	"github.com/zhubert/duet/internal/session"
	"github.com/zhubert/duet/internal/snapshot"
	"github.com/zhubert/duet/internal/transcript"
)

// AllowDirtyEnv skips the uncommitted-changes confirmation.
const AllowDirtyEnv = "DUET_ALLOW_DIRTY"

// ErrAborted is returned when the annotator declines a confirmation.
var ErrAborted = stderrors.New("aborted by user")

// Deps carries everything the stages need. Confirm is consulted for the
// dirty-tree prompt; a nil Confirm declines.
type Deps struct {
	Git       *git.Service
	Snapshots *snapshot.Service
	Store     *session.Store
	Launcher  *claude.Launcher
	Registry  *claude.Registry
	Config    *config.Config
	RepoPath  string
	Confirm   func(prompt string) (bool, error)
	Out       io.Writer
}

func (d *Deps) out() io.Writer {
	if d.Out == nil {
		return io.Discard
	}
	return d.Out
}

// Stage1Options configure the slot-A init stage.
type Stage1Options struct {
	TaskID     string
	ModelID    string // empty selects at random
	AllowDirty bool
}

// Stage2Options configure the A-to-B transition stage.
type Stage2Options struct {
	ModelID         string // empty selects the opposite of slot A
	ForceTranscript bool
}

// Stage3Options configure the finalize stage.
type Stage3Options struct {
	ForceTranscript bool
}

// Stage1 validates the repository, creates the slot-A session with its
// before snapshot, and hands the terminal to the assistant.
func Stage1(ctx context.Context, deps *Deps, opts Stage1Options) (*session.Session, error) {
	log := logger.WithComponent("workflow")
	out := deps.out()

	if opts.TaskID == "" {
		return nil, errors.ConfigInvalid("task ID must not be empty")
	}

	if err := deps.Git.ValidateRepo(ctx, deps.RepoPath); err != nil {
		return nil, err
	}
	baseCommit, err := deps.Git.CurrentCommit(ctx, deps.RepoPath)
	if err != nil {
		return nil, err
	}

	if err := confirmDirtyTree(ctx, deps, opts.AllowDirty); err != nil {
		return nil, err
	}

	modelID := opts.ModelID
	if modelID == "" {
		modelID = deps.Registry.SelectRandom()
	} else if !deps.Registry.Contains(modelID) {
		return nil, errors.ConfigInvalid(fmt.Sprintf("model %s is not one of the configured pair", modelID))
	}

	sess, err := deps.Store.Create(opts.TaskID, session.SlotA, modelID, baseCommit, "")
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Session %s created for model A (%s)\n", sess.ID, modelID)

	if err := initSessionArtifacts(ctx, deps, sess); err != nil {
		return nil, err
	}

	if err := launch(ctx, deps, sess, modelID); err != nil {
		return nil, err
	}

	log.Info("stage 1 complete", "sessionID", sess.ID, "model", modelID)
	printSessionSummary(out, sess)
	return sess, nil
}

// Stage2 finalizes slot A, resets the tree, and initializes slot B.
// Slot A's after snapshot, diff, and metadata are all persisted before the
// reset touches the working tree.
func Stage2(ctx context.Context, deps *Deps, opts Stage2Options) (*session.Session, error) {
	log := logger.WithComponent("workflow")
	out := deps.out()

	sessA, err := deps.Store.LoadActive(session.SlotA)
	if err != nil {
		return nil, errors.E(errors.Op("workflow.Stage2"), errors.KindState,
			"no active model A session; run stage1 first", err)
	}
	if sessA.Metadata.WorkflowStage != session.StageAInit && sessA.Metadata.WorkflowStage != session.StageAComplete {
		return nil, errors.SessionWrongStage(sessA.ID, string(sessA.Metadata.WorkflowStage), string(session.StageAInit))
	}
	baseCommit := sessA.Metadata.BaseCommit
	modelA := sessA.Metadata.ModelID

	// A re-run after the reset must not re-capture the now-reset tree over
	// A's real artifacts
	if sessA.Metadata.WorkflowStage == session.StageAComplete && artifactCaptured(sessA.DiffPath()) {
		fmt.Fprintf(out, "Model A session %s already finalized, keeping captured artifacts\n", sessA.ID)
	} else {
		fmt.Fprintf(out, "Finalizing model A session %s\n", sessA.ID)
		if err := captureRun(ctx, deps, sessA, session.StageAComplete, opts.ForceTranscript); err != nil {
			return nil, err
		}

		// A is fully persisted; only now is the destructive reset safe
		if err := deps.Git.ResetHard(ctx, deps.RepoPath, baseCommit, deps.Config.PreserveFiles); err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Working tree reset to %s\n", shortCommit(baseCommit))
	}

	if existing, errB := deps.Store.LoadActive(session.SlotB); errB == nil &&
		existing.Metadata.TaskID == sessA.Metadata.TaskID &&
		existing.Metadata.WorkflowStage == session.StageBInit {
		fmt.Fprintf(out, "Resuming model B session %s\n", existing.ID)
		if err := launch(ctx, deps, existing, existing.Metadata.ModelID); err != nil {
			return nil, err
		}
		log.Info("stage 2 resumed", "sessionB", existing.ID)
		printSessionSummary(out, existing)
		return existing, nil
	}

	modelB := opts.ModelID
	if modelB == "" {
		modelB, err = deps.Registry.Opposite(modelA)
		if err != nil {
			return nil, err
		}
	}
	if modelB == modelA {
		return nil, errors.ConfigInvalid("model B must differ from model A")
	}

	sessB, err := deps.Store.Create(sessA.Metadata.TaskID, session.SlotB, modelB, baseCommit, sessA.ID)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Session %s created for model B (%s)\n", sessB.ID, modelB)

	if err := initSessionArtifacts(ctx, deps, sessB); err != nil {
		return nil, err
	}

	if err := launch(ctx, deps, sessB, modelB); err != nil {
		return nil, err
	}

	log.Info("stage 2 complete", "sessionA", sessA.ID, "sessionB", sessB.ID, "modelB", modelB)
	printSessionSummary(out, sessB)
	return sessB, nil
}

// Stage3 finalizes slot B, backfills slot A's transcript when it is still
// missing, writes the task summary, and leaves the tree reset for the next
// task. Pointers are cleared once both sessions are terminal.
func Stage3(ctx context.Context, deps *Deps, opts Stage3Options) error {
	log := logger.WithComponent("workflow")
	out := deps.out()

	sessB, err := deps.Store.LoadActive(session.SlotB)
	if err != nil {
		return errors.E(errors.Op("workflow.Stage3"), errors.KindState,
			"no active model B session; run stage2 first", err)
	}

	if sessB.Metadata.WorkflowStage != session.StageBInit && sessB.Metadata.WorkflowStage != session.StageBComplete {
		return errors.SessionWrongStage(sessB.ID, string(sessB.Metadata.WorkflowStage), string(session.StageBInit))
	}

	fmt.Fprintf(out, "Finalizing model B session %s\n", sessB.ID)
	if err := captureRun(ctx, deps, sessB, session.StageBComplete, opts.ForceTranscript); err != nil {
		return err
	}

	sessA, errA := deps.Store.LoadActive(session.SlotA)
	if errA == nil && len(sessA.Metadata.Transcript) == 0 {
		if entries, turns, ok := tryTranscript(deps, sessA); ok {
			sessA.Metadata.Transcript = entries
			sessA.Metadata.Turns = turns
			sessA.Metadata.TranscriptUnparsed = false
			if err := deps.Store.Save(sessA); err != nil {
				return err
			}
			fmt.Fprintf(out, "Backfilled model A transcript (%d entries)\n", len(entries))
		}
	}

	if errA == nil {
		if err := writeSummary(deps, sessA, sessB); err != nil {
			return err
		}
	}

	// reset so the repository is ready for the next task
	if err := deps.Git.ResetHard(ctx, deps.RepoPath, sessB.Metadata.BaseCommit, deps.Config.PreserveFiles); err != nil {
		return err
	}

	if err := deps.Store.ClearPointer(session.SlotA); err != nil {
		return err
	}
	if err := deps.Store.ClearPointer(session.SlotB); err != nil {
		return err
	}

	log.Info("stage 3 complete", "sessionB", sessB.ID)
	fmt.Fprintf(out, "Workflow complete. Review the TASK-%s folder before uploading.\n", sessB.Metadata.TaskID)
	return nil
}

// confirmDirtyTree asks the annotator before proceeding on an unclean
// working tree, unless a flag or the environment allows it.
func confirmDirtyTree(ctx context.Context, deps *Deps, allowDirty bool) error {
	dirty, err := deps.Git.IsDirty(ctx, deps.RepoPath)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	if allowDirty || envTrue(AllowDirtyEnv) {
		fmt.Fprintln(deps.out(), "Continuing despite uncommitted changes (allow-dirty)")
		return nil
	}

	if deps.Confirm == nil {
		return ErrAborted
	}
	ok, err := deps.Confirm("The repository has uncommitted changes. Continue anyway?")
	if err != nil {
		return err
	}
	if !ok {
		return ErrAborted
	}
	return nil
}

// initSessionArtifacts captures the before snapshot, creates the
// placeholder after/diff artifacts, and writes the prompt template.
func initSessionArtifacts(ctx context.Context, deps *Deps, sess *session.Session) error {
	out := deps.out()

	if err := deps.Snapshots.CopyTree(ctx, deps.RepoPath, sess.BeforeDir(), deps.Config.SnapshotExcludes); err != nil {
		// a missing before snapshot degrades the comparison but does not
		// block the annotator
		fmt.Fprintf(out, "Warning: before snapshot failed: %v\n", err)
		logger.WithSession(sess.ID).Warn("before snapshot failed", "error", err)
	} else if count, err := snapshot.CountFiles(sess.BeforeDir()); err == nil {
		fmt.Fprintf(out, "Before snapshot captured (%d files)\n", count)
	}

	if err := os.MkdirAll(sess.AfterDir(), 0755); err != nil {
		return errors.SnapshotFailed(sess.AfterDir(), err)
	}
	if _, err := os.Stat(sess.DiffPath()); os.IsNotExist(err) {
		if err := os.WriteFile(sess.DiffPath(), nil, 0644); err != nil {
			return errors.SnapshotFailed(sess.DiffPath(), err)
		}
	}

	return writePromptTemplate(deps, sess)
}

// captureRun persists a session's after snapshot, diff, and transcript,
// then finalizes its metadata at the given terminal stage.
func captureRun(ctx context.Context, deps *Deps, sess *session.Session, stage session.Stage, forceTranscript bool) error {
	out := deps.out()
	baseCommit := sess.Metadata.BaseCommit

	if err := deps.Snapshots.CopyTree(ctx, deps.RepoPath, sess.AfterDir(), deps.Config.SnapshotExcludes); err != nil {
		fmt.Fprintf(out, "Warning: after snapshot failed: %v\n", err)
		logger.WithSession(sess.ID).Warn("after snapshot failed", "error", err)
	}

	if err := deps.Git.WriteDiff(ctx, deps.RepoPath, baseCommit, sess.DiffPath(), deps.Config.DiffExcludes); err != nil {
		return err
	}
	fmt.Fprintf(out, "Diff captured to %s\n", sess.DiffPath())

	changes, err := deps.Git.ChangedFileCount(ctx, deps.RepoPath, baseCommit)
	if err != nil {
		return err
	}

	result := session.FinalizeResult{
		EndTime:     time.Now(),
		CodeChanges: changes,
		Stage:       stage,
	}

	existing := sess.Metadata.Transcript
	if len(existing) > 0 && !forceTranscript {
		fmt.Fprintln(out, "Transcript already captured, keeping existing entries")
		result.Transcript = existing
		result.Turns = sess.Metadata.Turns
	} else if entries, turns, ok := tryTranscript(deps, sess); ok {
		result.Transcript = entries
		result.Turns = turns
		fmt.Fprintf(out, "Transcript parsed (%d entries, %d turns)\n", len(entries), turns)
	} else if len(existing) > 0 {
		fmt.Fprintln(out, "No new transcript found, keeping existing entries")
		result.Transcript = existing
		result.Turns = sess.Metadata.Turns
	} else {
		result.Unparsed = true
		fmt.Fprintln(out, "Warning: no parsable transcript found; continuing without one")
	}

	return deps.Store.Finalize(sess, result)
}

// tryTranscript locates and parses the session transcript. A missing or
// unparsable source is not an error; ok is false and the caller degrades.
func tryTranscript(deps *Deps, sess *session.Session) ([]transcript.Entry, int, bool) {
	log := logger.WithSession(sess.ID)

	source, err := transcript.Locate(sess.Dir, deps.RepoPath, deps.Config.TranscriptSources)
	if err != nil {
		log.Warn("transcript source not found")
		return nil, 0, false
	}

	entries, cleaned, err := transcript.ParseFile(source)
	if err != nil {
		log.Warn("transcript read failed", "source", source, "error", err)
		return nil, 0, false
	}

	// keep a raw copy in the session dir when the source lives elsewhere
	if source != sess.TranscriptPath() {
		if err := os.WriteFile(sess.TranscriptPath(), []byte(cleaned), 0644); err != nil {
			log.Warn("failed to copy raw transcript", "error", err)
		}
	}

	if len(entries) == 0 {
		log.Warn("transcript yielded no entries", "source", source)
		return nil, 0, false
	}
	return entries, transcript.TurnCount(entries), true
}

func launch(ctx context.Context, deps *Deps, sess *session.Session, modelID string) error {
	out := deps.out()
	fmt.Fprintf(out, "Launching assistant (%s). Exit the session when the task is done.\n", modelID)

	captured, err := deps.Launcher.Launch(ctx, deps.RepoPath, modelID, sess.TranscriptPath())
	if err != nil {
		return err
	}
	if !captured {
		fmt.Fprintln(out, "Warning: transcript capture unavailable; save the conversation manually if needed")
	}
	return nil
}

func writePromptTemplate(deps *Deps, sess *session.Session) error {
	content := fmt.Sprintf(`# Task ID: %s

## Instructions
Paste your task prompt below this line, then copy the entire content to
the assistant session:

---

[PASTE YOUR TASK PROMPT HERE]

---

## Session Info
- Task ID: %s
- Session ID: %s
- Model slot: %s
- Timestamp: %s

## Notes
- This file is for reference only
- Do not commit changes until the next stage instructs you to
- Session data is saved parallel to your repository
`, sess.Metadata.TaskID, sess.Metadata.TaskID, sess.ID, sess.Slot, time.Now().UTC().Format(time.RFC3339))

	if err := os.WriteFile(sess.PromptPath(), []byte(content), 0644); err != nil {
		return errors.MetadataWriteFailed(sess.PromptPath(), err)
	}
	return nil
}

func writeSummary(deps *Deps, sessA, sessB *session.Session) error {
	var sb strings.Builder
	taskID := sessB.Metadata.TaskID

	sb.WriteString("WORKFLOW SUMMARY\n")
	sb.WriteString("================\n\n")
	fmt.Fprintf(&sb, "Task ID: %s\n", taskID)
	fmt.Fprintf(&sb, "Base Commit: %s\n\n", sessB.Metadata.BaseCommit)

	for _, s := range []*session.Session{sessA, sessB} {
		fmt.Fprintf(&sb, "Session %s (%s)\n", s.ID, s.Slot)
		fmt.Fprintf(&sb, "  Model: %s\n", s.Metadata.ModelID)
		if s.Metadata.TotalDuration != nil {
			fmt.Fprintf(&sb, "  Duration: %.0f seconds\n", *s.Metadata.TotalDuration)
		}
		if s.Metadata.TotalCodeChanges != nil {
			fmt.Fprintf(&sb, "  Code changes: %d files\n", *s.Metadata.TotalCodeChanges)
		}
		fmt.Fprintf(&sb, "  Turns: %d\n", s.Metadata.Turns)
		if s.Metadata.TranscriptUnparsed {
			sb.WriteString("  Transcript: unparsed\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Upload the entire TASK-" + taskID + "/ folder for review.\n")

	path := filepath.Join(deps.Store.TaskDir(taskID), "workflow_summary.txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return errors.MetadataWriteFailed(path, err)
	}
	fmt.Fprintf(deps.out(), "Summary written to %s\n", path)
	return nil
}

func printSessionSummary(out io.Writer, sess *session.Session) {
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out, "SESSION SETUP COMPLETE")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintf(out, "Session ID: %s\n", sess.ID)
	fmt.Fprintf(out, "Model ID: %s\n", sess.Metadata.ModelID)
	fmt.Fprintf(out, "Base Commit: %s\n", shortCommit(sess.Metadata.BaseCommit))
	fmt.Fprintf(out, "Session Directory: %s\n", sess.Dir)
	fmt.Fprintln(out, strings.Repeat("=", 50))
}

// artifactCaptured reports whether a capture artifact exists with content.
func artifactCaptured(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func envTrue(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
