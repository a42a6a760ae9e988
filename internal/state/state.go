package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/joshharrison/lantern/internal/planner"
)

// DefaultDir is the output directory used when none is configured.
const DefaultDir = ".lantern"

const stateFile = "state.json"

// SchemaVersion is the version written to new state files. Files with a
// newer version are loaded best-effort.
const SchemaVersion = 1

// DefaultMaxSummaryLength bounds the rolling global summary.
const DefaultMaxSummaryLength = 3000

// ErrCorruptState is returned when the state file exists but is not valid
// JSON. A run cannot be resumed from it.
var ErrCorruptState = errors.New("corrupt state file")

// FileStatus is the analysis outcome recorded for a file.
type FileStatus string

const (
	FileSuccess FileStatus = "success"
	FileEmpty   FileStatus = "empty"
	FileError   FileStatus = "error"
)

// FileEntry is the manifest record of a file's last analysis.
type FileEntry struct {
	BatchID int        `json:"batch_id"`
	Status  FileStatus `json:"status"`
	Digest  string     `json:"digest,omitempty"`
}

// Workflow is the orchestrator checkpoint.
type Workflow struct {
	Stage        string  `json:"stage,omitempty"`
	Mode         string  `json:"mode,omitempty"`
	RunID        string  `json:"run_id,omitempty"`
	TargetCommit string  `json:"target_commit,omitempty"`
	Iteration    int     `json:"iteration"`
	QualityScore float64 `json:"quality_score"`
	Review       string  `json:"review,omitempty"`
}

// ExecutionState is the persisted progress of an analysis.
type ExecutionState struct {
	SchemaVersion    int                  `json:"schema_version"`
	PlanID           string               `json:"plan_id,omitempty"`
	PlanFingerprint  string               `json:"plan_fingerprint,omitempty"`
	LastBatchID      int                  `json:"last_batch_id"`
	CompletedBatches []int                `json:"completed_batches"`
	FailedBatches    []int                `json:"failed_batches"`
	GlobalSummary    string               `json:"global_summary"`
	GitCommitSHA     string               `json:"git_commit_sha"`
	FileManifest     map[string]FileEntry `json:"file_manifest"`
	Workflow         Workflow             `json:"workflow"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func newExecutionState() *ExecutionState {
	return &ExecutionState{
		SchemaVersion:    SchemaVersion,
		CompletedBatches: []int{},
		FailedBatches:    []int{},
		FileManifest:     make(map[string]FileEntry),
	}
}

// IsCompleted reports whether batch id completed successfully.
func (s *ExecutionState) IsCompleted(id int) bool {
	return slices.Contains(s.CompletedBatches, id)
}

// IsFailed reports whether batch id is recorded as failed.
func (s *ExecutionState) IsFailed(id int) bool {
	return slices.Contains(s.FailedBatches, id)
}

func (s *ExecutionState) clone() *ExecutionState {
	c := *s
	c.CompletedBatches = slices.Clone(s.CompletedBatches)
	c.FailedBatches = slices.Clone(s.FailedBatches)
	c.FileManifest = make(map[string]FileEntry, len(s.FileManifest))
	for k, v := range s.FileManifest {
		c.FileManifest[k] = v
	}
	return &c
}

// Compressor shortens an oversized global summary. It is optional; without
// one the summary is tail-truncated.
type Compressor interface {
	Compress(ctx context.Context, summary string, target int) (string, error)
}

// Store owns the execution state and its file. Every mutation is serialized
// and persisted before it returns.
type Store struct {
	mu         sync.Mutex
	path       string
	state      *ExecutionState
	maxSummary int
	compressor Compressor
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSummaryLength overrides DefaultMaxSummaryLength.
func WithMaxSummaryLength(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSummary = n
		}
	}
}

// WithCompressor sets the summary compressor.
func WithCompressor(c Compressor) Option {
	return func(s *Store) { s.compressor = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns a store for the state file at path without reading it.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:       path,
		state:      newExecutionState(),
		maxSummary: DefaultMaxSummaryLength,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open creates dir if needed and loads dir/state.json.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := NewStore(filepath.Join(dir, stateFile), opts...)
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Exists checks if a state file exists in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, stateFile))
	return err == nil
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state file. A missing file yields a fresh state. Unknown
// fields are ignored and missing ones take their zero value.
func (s *Store) Load() (*ExecutionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.state = newExecutionState()
		return s.state.clone(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s", ErrCorruptState, s.path)
	}
	if v := gjson.GetBytes(data, "schema_version").Int(); v > SchemaVersion {
		s.logger.Warn("state file written by a newer version, loading best-effort",
			"path", s.path, "schema_version", v)
	}

	st := newExecutionState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}
	if st.CompletedBatches == nil {
		st.CompletedBatches = []int{}
	}
	if st.FailedBatches == nil {
		st.FailedBatches = []int{}
	}
	if st.FileManifest == nil {
		st.FileManifest = make(map[string]FileEntry)
	}
	st.FailedBatches = slices.DeleteFunc(st.FailedBatches, st.IsCompleted)
	st.SchemaVersion = SchemaVersion

	s.state = st
	return st.clone(), nil
}

// Save persists the state atomically: temp file in the same directory,
// fsync, rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	tmpPath = ""
	return nil
}

func (s *Store) mutate(fn func(st *ExecutionState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
	s.state.UpdatedAt = time.Now().UTC()
	return s.save()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// MarkBatch records a batch outcome. Success moves the batch to completed
// and clears any earlier failure. Failure is ignored for completed batches.
func (s *Store) MarkBatch(id int, success bool) error {
	return s.mutate(func(st *ExecutionState) {
		if success {
			if !st.IsCompleted(id) {
				st.CompletedBatches = append(st.CompletedBatches, id)
				slices.Sort(st.CompletedBatches)
			}
			st.FailedBatches = slices.DeleteFunc(st.FailedBatches, func(b int) bool { return b == id })
			if id > st.LastBatchID {
				st.LastBatchID = id
			}
			return
		}
		if !st.IsCompleted(id) && !st.IsFailed(id) {
			st.FailedBatches = append(st.FailedBatches, id)
			slices.Sort(st.FailedBatches)
		}
	})
}

// ResetBatches forgets the outcome of the given batches so they run again.
func (s *Store) ResetBatches(ids []int) error {
	return s.mutate(func(st *ExecutionState) {
		drop := func(b int) bool { return slices.Contains(ids, b) }
		st.CompletedBatches = slices.DeleteFunc(st.CompletedBatches, drop)
		st.FailedBatches = slices.DeleteFunc(st.FailedBatches, drop)
	})
}

// BindPlan associates the state with plan. When the plan's batch layout
// differs from the one progress was recorded against, the batch sets are
// cleared because batch IDs no longer mean the same files. It reports
// whether a reset happened.
func (s *Store) BindPlan(plan *planner.Plan) (bool, error) {
	fp := plan.Fingerprint()
	reset := false
	err := s.mutate(func(st *ExecutionState) {
		if st.PlanFingerprint != fp {
			reset = st.PlanFingerprint != "" || len(st.CompletedBatches) > 0 || len(st.FailedBatches) > 0
			st.CompletedBatches = []int{}
			st.FailedBatches = []int{}
			st.LastBatchID = 0
		}
		st.PlanID = plan.ID
		st.PlanFingerprint = fp
	})
	return reset, err
}

// PendingBatches returns every batch of plan that has not completed, in plan
// order. Failed batches are pending.
func (s *Store) PendingBatches(plan *planner.Plan) []planner.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []planner.Batch
	for _, b := range plan.Batches() {
		if !s.state.IsCompleted(b.ID) {
			out = append(out, b)
		}
	}
	return out
}

// UpdateSummary appends text to the global summary. When the result exceeds
// the maximum length the compressor is tried first, then the summary is
// tail-truncated keeping the newest content behind a "..." prefix.
//
// The compressor runs without the store lock and under compressTimeout, so
// batch bookkeeping continues while it works. Its output is discarded when
// another update changed the summary in the meantime.
func (s *Store) UpdateSummary(ctx context.Context, text string) error {
	s.mu.Lock()
	base := s.state.GlobalSummary
	updated := joinSummary(base, text)
	if len(updated) <= s.maxSummary || s.compressor == nil {
		defer s.mu.Unlock()
		return s.setSummary(s.truncate(updated))
	}
	s.mu.Unlock()

	compressed, ok := s.compress(ctx, updated)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state.GlobalSummary != base:
		s.logger.Debug("summary changed during compression, truncating")
		return s.setSummary(s.truncate(joinSummary(s.state.GlobalSummary, text)))
	case ok:
		return s.setSummary(compressed)
	default:
		return s.setSummary(s.truncate(updated))
	}
}

// compressTimeout bounds one compressor call.
const compressTimeout = 2 * time.Minute

func joinSummary(summary, text string) string {
	if summary == "" {
		return text
	}
	return summary + "\n\n" + text
}

// setSummary must be called with s.mu held.
func (s *Store) setSummary(summary string) error {
	s.state.GlobalSummary = summary
	s.state.UpdatedAt = time.Now().UTC()
	return s.save()
}

func (s *Store) compress(ctx context.Context, summary string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, compressTimeout)
	defer cancel()

	out, err := s.compressor.Compress(ctx, summary, s.maxSummary/3)
	switch {
	case err != nil:
		s.logger.Warn("summary compression failed, truncating", "error", err)
	case len(out) == 0 || len(out) > s.maxSummary || !utf8.ValidString(out):
		s.logger.Warn("summary compression produced unusable output, truncating", "length", len(out))
	default:
		s.logger.Info("summary compressed", "from", len(summary), "to", len(out))
		return out, true
	}
	return "", false
}

// truncate keeps the newest content of summary within the maximum length.
// The cut never splits a UTF-8 sequence.
func (s *Store) truncate(summary string) string {
	if len(summary) <= s.maxSummary {
		return summary
	}
	keep := max(s.maxSummary-3, 0)
	cut := len(summary) - keep
	for cut < len(summary) && !utf8.RuneStart(summary[cut]) {
		cut++
	}
	return "..." + summary[cut:]
}

// RecordFiles writes manifest entries for the files of a batch. digests maps
// each path to its content digest.
func (s *Store) RecordFiles(batchID int, status FileStatus, digests map[string]string) error {
	return s.mutate(func(st *ExecutionState) {
		for path, d := range digests {
			st.FileManifest[path] = FileEntry{BatchID: batchID, Status: status, Digest: d}
		}
	})
}

// RemoveFiles drops manifest entries.
func (s *Store) RemoveFiles(paths []string) error {
	return s.mutate(func(st *ExecutionState) {
		for _, p := range paths {
			delete(st.FileManifest, p)
		}
	})
}

// RelabelFiles moves manifest entries from old to new paths, keeping the
// recorded analysis.
func (s *Store) RelabelFiles(renames map[string]string) error {
	return s.mutate(func(st *ExecutionState) {
		// All old entries are taken out before any is written back, so
		// swapped or chained renames do not overwrite each other.
		moved := make(map[string]FileEntry, len(renames))
		for from, to := range renames {
			if e, ok := st.FileManifest[from]; ok {
				moved[to] = e
			}
		}
		for from := range renames {
			delete(st.FileManifest, from)
		}
		for to, e := range moved {
			st.FileManifest[to] = e
		}
	})
}

// ManifestSize returns the number of manifest entries.
func (s *Store) ManifestSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.FileManifest)
}

// SetCommit records the commit the analysis reflects.
func (s *Store) SetCommit(sha string) error {
	return s.mutate(func(st *ExecutionState) {
		st.GitCommitSHA = sha
	})
}

// Checkpoint records the orchestrator stage. mutate, if non-nil, may update
// the rest of the workflow block in the same write.
func (s *Store) Checkpoint(stage string, mutate func(w *Workflow)) error {
	return s.mutate(func(st *ExecutionState) {
		st.Workflow.Stage = stage
		if mutate != nil {
			mutate(&st.Workflow)
		}
	})
}

// Clean removes the output directory. Entries named in keep survive, and
// the directory itself is kept when any of them exists.
func Clean(dir string, keep ...string) error {
	if len(keep) == 0 {
		return os.RemoveAll(dir)
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if slices.Contains(keep, e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
