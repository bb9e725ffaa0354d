// Package session manages annotation session directories and their
// metadata records. A session is one model's run at a task; its directory
// lives under TASK-<id>/ next to the repository and holds the snapshot
// pair, the diff, the transcript log, and session_metadata.json.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/duet/internal/errors"
	"github.com/zhubert/duet/internal/logger"
	"github.com/zhubert/duet/internal/paths"
	"github.com/zhubert/duet/internal/transcript"
)

// Slot identifies which model position a session fills.
type Slot string

const (
	SlotA Slot = "modelA"
	SlotB Slot = "modelB"
)

// Stage is the workflow position recorded in metadata.
type Stage string

const (
	StageAInit     Stage = "model_a_init"
	StageAComplete Stage = "model_a_complete"
	StageBInit     Stage = "model_b_init"
	StageBComplete Stage = "model_b_complete"
)

// FormatVersion is written into every metadata record.
const FormatVersion = "1.0"

// SnapshotPaths are the artifact locations relative to the tasks parent.
type SnapshotPaths struct {
	Before string `json:"before"`
	After  string `json:"after"`
	Diff   string `json:"diff"`
}

// RelatedSession links a slot-B session back to its slot-A pair.
type RelatedSession struct {
	ModelASessionID string `json:"model_a_session_id"`
	ComparisonPair  bool   `json:"comparison_pair"`
}

// Metadata is the session_metadata.json record.
type Metadata struct {
	TaskID             string             `json:"task_id"`
	SessionID          string             `json:"session_id"`
	UUID               string             `json:"uuid"`
	BaseCommit         string             `json:"base_commit"`
	ModelID            string             `json:"model_id"`
	TimestampStart     string             `json:"timestamp_start"`
	TimestampEnd       string             `json:"timestamp_end,omitempty"`
	TotalDuration      *float64           `json:"total_duration"`
	TotalCost          *float64           `json:"total_cost"`
	TotalCodeChanges   *int               `json:"total_code_changes"`
	SnapshotPaths      SnapshotPaths      `json:"snapshot_paths"`
	Transcript         []transcript.Entry `json:"transcript"`
	Turns              int                `json:"turns"`
	TranscriptUnparsed bool               `json:"transcript_unparsed,omitempty"`
	FormatVersion      string             `json:"format_version"`
	WorkflowStage      Stage              `json:"workflow_stage"`
	RelatedSession     *RelatedSession    `json:"related_session,omitempty"`
}

// Session is a live handle to a session directory and its metadata.
type Session struct {
	ID       string
	Slot     Slot
	Dir      string
	Metadata *Metadata
}

// SnapshotsDir returns the snapshots subdirectory.
func (s *Session) SnapshotsDir() string { return filepath.Join(s.Dir, "snapshots") }

// BeforeDir returns the before-state snapshot directory.
func (s *Session) BeforeDir() string { return filepath.Join(s.SnapshotsDir(), "before_code_state") }

// AfterDir returns the after-state snapshot directory.
func (s *Session) AfterDir() string { return filepath.Join(s.SnapshotsDir(), "after_code_state") }

// DiffPath returns the diff patch location.
func (s *Session) DiffPath() string { return filepath.Join(s.SnapshotsDir(), "git_diff.patch") }

// MetadataPath returns the metadata record location.
func (s *Session) MetadataPath() string { return filepath.Join(s.Dir, "session_metadata.json") }

// TranscriptPath returns the raw transcript log location.
func (s *Session) TranscriptPath() string {
	return filepath.Join(s.Dir, transcript.DefaultLogName)
}

// PromptPath returns the task prompt template location.
func (s *Session) PromptPath() string { return filepath.Join(s.Dir, "task_prompt.txt") }

// pointer is the per-slot resume record under the state dir.
type pointer struct {
	TaskID     string `json:"task_id"`
	SessionID  string `json:"session_id"`
	SessionDir string `json:"session_dir"`
	CreatedAt  string `json:"created_at"`
}

// Store creates, resumes, and finalizes sessions. tasksParent is the
// directory in which TASK-<id>/ folders are created (the repository's
// parent); pointersDir holds the per-slot active pointers.
type Store struct {
	tasksParent string
	pointersDir string
	now         func() time.Time
}

// NewStore builds a Store for the given repository path, with pointers
// under the user state dir.
func NewStore(repoPath string) (*Store, error) {
	pointersDir, err := paths.PointersDir()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	return NewStoreAt(filepath.Dir(abs), pointersDir), nil
}

// NewStoreAt builds a Store with explicit directories. Used by tests.
func NewStoreAt(tasksParent, pointersDir string) *Store {
	return &Store{
		tasksParent: tasksParent,
		pointersDir: pointersDir,
		now:         time.Now,
	}
}

// TaskDir returns the TASK-<id> directory for a task.
func (st *Store) TaskDir(taskID string) string {
	return filepath.Join(st.tasksParent, "TASK-"+taskID)
}

// NewSessionID generates a short session identifier.
func NewSessionID() string {
	u := uuid.New()
	return fmt.Sprintf("S%x", u[:4])
}

// Create builds a fresh session directory for a slot, writes its initial
// metadata, and records the slot pointer. relatedASessionID links a slot-B
// session to its pair and is empty for slot A. Creation fails if the
// session directory already exists.
func (st *Store) Create(taskID string, slot Slot, modelID, baseCommit, relatedASessionID string) (*Session, error) {
	log := logger.WithComponent("session")

	id := NewSessionID()
	taskDir := st.TaskDir(taskID)
	if err := os.MkdirAll(taskDir, 0755); err != nil {
		return nil, errors.MetadataWriteFailed(taskDir, err)
	}

	dirName := fmt.Sprintf("%s-%s", id, slot)
	sessionDir := filepath.Join(taskDir, dirName)
	if err := os.Mkdir(sessionDir, 0755); err != nil {
		if os.IsExist(err) {
			return nil, errors.SessionDirExists(sessionDir)
		}
		return nil, errors.MetadataWriteFailed(sessionDir, err)
	}
	if err := os.MkdirAll(filepath.Join(sessionDir, "snapshots"), 0755); err != nil {
		return nil, errors.MetadataWriteFailed(sessionDir, err)
	}

	stage := StageAInit
	if slot == SlotB {
		stage = StageBInit
	}

	relPrefix := filepath.Join("TASK-"+taskID, dirName, "snapshots")
	meta := &Metadata{
		TaskID:         taskID,
		SessionID:      id,
		UUID:           uuid.New().String(),
		BaseCommit:     baseCommit,
		ModelID:        modelID,
		TimestampStart: st.now().UTC().Format(time.RFC3339),
		SnapshotPaths: SnapshotPaths{
			Before: relPrefix + "/before_code_state/",
			After:  relPrefix + "/after_code_state/",
			Diff:   relPrefix + "/git_diff.patch",
		},
		Transcript:    []transcript.Entry{},
		FormatVersion: FormatVersion,
		WorkflowStage: stage,
	}
	if relatedASessionID != "" {
		meta.RelatedSession = &RelatedSession{
			ModelASessionID: relatedASessionID,
			ComparisonPair:  true,
		}
	}

	sess := &Session{ID: id, Slot: slot, Dir: sessionDir, Metadata: meta}
	if err := st.Save(sess); err != nil {
		return nil, err
	}
	if err := st.writePointer(slot, taskID, sess); err != nil {
		return nil, err
	}

	log.Info("session created", "sessionID", id, "slot", slot, "taskID", taskID, "model", modelID)
	return sess, nil
}

// LoadActive resumes the session the slot pointer refers to.
func (st *Store) LoadActive(slot Slot) (*Session, error) {
	data, err := os.ReadFile(st.pointerPath(slot))
	if err != nil {
		return nil, errors.NoActiveSession(string(slot))
	}

	var p pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.NoActiveSession(string(slot))
	}

	metaPath := filepath.Join(p.SessionDir, "session_metadata.json")
	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, errors.NoActiveSession(string(slot))
	}

	var meta Metadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("corrupt session metadata at %s: %w", metaPath, err)
	}

	return &Session{ID: meta.SessionID, Slot: slot, Dir: p.SessionDir, Metadata: &meta}, nil
}

// ReadMetadata loads a session_metadata.json record from disk.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt session metadata at %s: %w", path, err)
	}
	return &meta, nil
}

// FinalizeResult carries the capture outcome applied to a session's
// metadata when its run ends.
type FinalizeResult struct {
	EndTime     time.Time
	CodeChanges int
	Transcript  []transcript.Entry
	Turns       int
	Unparsed    bool
	Stage       Stage
}

// Finalize stamps the end of a session run and persists the metadata.
// A non-empty existing transcript is preserved unless the result carries
// a replacement.
func (st *Store) Finalize(sess *Session, result FinalizeResult) error {
	meta := sess.Metadata

	meta.TimestampEnd = result.EndTime.UTC().Format(time.RFC3339)
	if start, err := time.Parse(time.RFC3339, meta.TimestampStart); err == nil {
		duration := result.EndTime.UTC().Sub(start).Seconds()
		meta.TotalDuration = &duration
	}
	changes := result.CodeChanges
	meta.TotalCodeChanges = &changes
	meta.WorkflowStage = result.Stage

	if len(result.Transcript) > 0 {
		meta.Transcript = result.Transcript
		meta.Turns = result.Turns
		meta.TranscriptUnparsed = false
	} else {
		meta.TranscriptUnparsed = result.Unparsed
	}

	if err := st.Save(sess); err != nil {
		return err
	}
	logger.WithSession(sess.ID).Info("session finalized",
		"stage", result.Stage, "codeChanges", result.CodeChanges, "turns", meta.Turns)
	return nil
}

// Save writes the session metadata atomically.
func (st *Store) Save(sess *Session) error {
	if err := writeJSONAtomic(sess.MetadataPath(), sess.Metadata); err != nil {
		return errors.MetadataWriteFailed(sess.MetadataPath(), err)
	}
	return nil
}

// ClearPointer removes a slot's active pointer. Missing pointers are not
// an error.
func (st *Store) ClearPointer(slot Slot) error {
	err := os.Remove(st.pointerPath(slot))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (st *Store) pointerPath(slot Slot) string {
	return filepath.Join(st.pointersDir, string(slot)+".json")
}

func (st *Store) writePointer(slot Slot, taskID string, sess *Session) error {
	if err := os.MkdirAll(st.pointersDir, 0755); err != nil {
		return errors.MetadataWriteFailed(st.pointersDir, err)
	}
	p := pointer{
		TaskID:     taskID,
		SessionID:  sess.ID,
		SessionDir: sess.Dir,
		CreatedAt:  st.now().UTC().Format(time.RFC3339),
	}
	if err := writeJSONAtomic(st.pointerPath(slot), p); err != nil {
		return errors.MetadataWriteFailed(st.pointerPath(slot), err)
	}
	return nil
}

// writeJSONAtomic writes v as indented JSON via a temp file and rename so
// a crash never leaves a truncated record.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
