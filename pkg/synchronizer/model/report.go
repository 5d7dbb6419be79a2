package model

import (
	"fmt"
	"time"

	"github.com/pmirror/pmirror/pkg/registry/types"
	"github.com/pmirror/pmirror/pkg/registry/types/id"
)

// State is the state of one phase of a sync run.
type State string

const (
	// StateNotStarted indicates that the phase has not begun.
	StateNotStarted State = "not-started"
	// StateRunning indicates that the phase is in progress.
	StateRunning State = "running"
	// StateSuccess indicates that the phase completed. Individual modules may
	// still have failed; see the error count.
	StateSuccess State = "success"
	// StateFailed indicates that the phase failed as a whole.
	StateFailed State = "failed"
	// StateSkipped indicates that the phase was never run.
	StateSkipped State = "skipped"
	// StateCanceled indicates that the run was canceled during the phase.
	StateCanceled State = "canceled"
)

func validState(state State) bool {
	switch state {
	case StateNotStarted, StateRunning, StateSuccess, StateFailed, StateSkipped, StateCanceled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed from state.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateSkipped, StateCanceled:
		return true
	default:
		return false
	}
}

// Phase tracks one of the two independently tracked phases of a sync.
type Phase struct {
	State        State         `json:"state"`
	Total        int           `json:"total"`
	Finished     int           `json:"finished"`
	ErrorCount   int           `json:"error_count"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Traceback    string        `json:"traceback,omitempty"`
	ModuleErrors []ModuleError `json:"module_errors,omitempty"`
}

// ModuleError records why a single module could not be imported.
type ModuleError struct {
	Module string `json:"module"`
	Error  string `json:"error"`
}

func (p *Phase) start() error {
	if p.State != StateNotStarted {
		return fmt.Errorf("cannot start phase in state %s", p.State)
	}
	now := time.Now()
	p.State = StateRunning
	p.StartedAt = &now
	return nil
}

func (p *Phase) finish(state State, errorMessage string, traceback string) error {
	if p.State.Terminal() {
		return fmt.Errorf("cannot move phase from %s to %s", p.State, state)
	}
	if state == StateSuccess && p.State != StateRunning {
		return fmt.Errorf("cannot complete phase in state %s", p.State)
	}
	if state == StateSkipped && p.State != StateNotStarted {
		return fmt.Errorf("cannot skip phase in state %s", p.State)
	}
	now := time.Now()
	p.State = state
	p.FinishedAt = &now
	p.ErrorMessage = errorMessage
	p.Traceback = traceback
	return nil
}

// Report is the progress report of one sync run. It has two independently
// tracked phases, metadata and modules; the modules phase only starts once
// metadata has succeeded.
type Report struct {
	id           id.SyncID
	repositoryID string
	metadata     Phase
	modules      Phase
	removed      int
	createdAt    time.Time
	updatedAt    time.Time
}

// validation conditions -- should not be callable externally, all reports outside this module MUST be valid
func validateReport(r *Report) (*Report, error) {
	if r.id == id.Nil {
		return nil, types.ErrEmpty{Field: "id"}
	}
	if r.repositoryID == "" {
		return nil, types.ErrEmpty{Field: "repository id"}
	}
	if !validState(r.metadata.State) {
		return nil, fmt.Errorf("invalid metadata state: %s", r.metadata.State)
	}
	if !validState(r.modules.State) {
		return nil, fmt.Errorf("invalid modules state: %s", r.modules.State)
	}
	switch r.modules.State {
	case StateNotStarted, StateSkipped, StateCanceled:
		return r, nil
	}
	if r.metadata.State != StateSuccess {
		return nil, fmt.Errorf("modules phase is %s but metadata phase is %s", r.modules.State, r.metadata.State)
	}
	return r, nil
}

// NewReport creates a report for a new sync run of a repository.
func NewReport(repositoryID string) (*Report, error) {
	r := &Report{
		id:           id.New(),
		repositoryID: repositoryID,
		metadata:     Phase{State: StateNotStarted},
		modules:      Phase{State: StateNotStarted},
		createdAt:    time.Now(),
		updatedAt:    time.Now(),
	}
	return validateReport(r)
}

// accessors

func (r *Report) ID() id.SyncID {
	return r.id
}

func (r *Report) RepositoryID() string {
	return r.repositoryID
}

// Metadata returns a copy of the metadata phase.
func (r *Report) Metadata() Phase {
	return r.metadata.clone()
}

// Modules returns a copy of the modules phase.
func (r *Report) Modules() Phase {
	return r.modules.clone()
}

// Removed returns how many modules were disassociated as missing.
func (r *Report) Removed() int {
	return r.removed
}

func (r *Report) CreatedAt() time.Time {
	return r.createdAt
}

func (r *Report) UpdatedAt() time.Time {
	return r.updatedAt
}

// Succeeded reports whether both phases ended in success.
func (r *Report) Succeeded() bool {
	return r.metadata.State == StateSuccess && r.modules.State == StateSuccess
}

// Done reports whether the run reached a terminal state.
func (r *Report) Done() bool {
	if r.metadata.State != StateSuccess {
		return r.metadata.State.Terminal()
	}
	return r.modules.State.Terminal()
}

// transitions

func (r *Report) StartMetadata() error {
	return r.touch(r.metadata.start())
}

func (r *Report) CompleteMetadata() error {
	return r.touch(r.metadata.finish(StateSuccess, "", ""))
}

// FailMetadata marks the metadata phase failed. The modules phase is skipped.
func (r *Report) FailMetadata(errorMessage string, traceback string) error {
	if err := r.metadata.finish(StateFailed, errorMessage, traceback); err != nil {
		return err
	}
	return r.touch(r.modules.finish(StateSkipped, "", ""))
}

// StartModules begins the modules phase with the given number of modules to
// import.
func (r *Report) StartModules(total int) error {
	if r.metadata.State != StateSuccess {
		return fmt.Errorf("cannot start modules phase while metadata phase is %s", r.metadata.State)
	}
	if err := r.modules.start(); err != nil {
		return err
	}
	r.modules.Total = total
	return r.touch(nil)
}

// ModuleImported counts one successfully imported module.
func (r *Report) ModuleImported() error {
	if r.modules.State != StateRunning {
		return fmt.Errorf("cannot record module in state %s", r.modules.State)
	}
	r.modules.Finished++
	return r.touch(nil)
}

// ModuleFailed counts one module that could not be imported.
func (r *Report) ModuleFailed(module string, err error) error {
	if r.modules.State != StateRunning {
		return fmt.Errorf("cannot record module in state %s", r.modules.State)
	}
	r.modules.Finished++
	r.modules.ErrorCount++
	r.modules.ModuleErrors = append(r.modules.ModuleErrors, ModuleError{Module: module, Error: err.Error()})
	return r.touch(nil)
}

// ModuleRemoved counts one module disassociated because the feed no longer has it.
func (r *Report) ModuleRemoved() error {
	if r.modules.State != StateRunning {
		return fmt.Errorf("cannot record removal in state %s", r.modules.State)
	}
	r.removed++
	return r.touch(nil)
}

func (r *Report) CompleteModules() error {
	return r.touch(r.modules.finish(StateSuccess, "", ""))
}

func (r *Report) FailModules(errorMessage string, traceback string) error {
	return r.touch(r.modules.finish(StateFailed, errorMessage, traceback))
}

// Cancel moves whichever phases are not yet terminal to canceled.
func (r *Report) Cancel() error {
	if r.Done() {
		return fmt.Errorf("cannot cancel finished sync")
	}
	if !r.metadata.State.Terminal() {
		if err := r.metadata.finish(StateCanceled, "", ""); err != nil {
			return err
		}
	}
	if !r.modules.State.Terminal() {
		if err := r.modules.finish(StateCanceled, "", ""); err != nil {
			return err
		}
	}
	return r.touch(nil)
}

func (r *Report) touch(err error) error {
	if err != nil {
		return err
	}
	r.updatedAt = time.Now()
	return nil
}

func (p Phase) clone() Phase {
	p.ModuleErrors = append([]ModuleError(nil), p.ModuleErrors...)
	return p
}

// Snapshot is the serialized form of a report, as recorded by the status sink.
type Snapshot struct {
	ID           string    `json:"id"`
	RepositoryID string    `json:"repository_id"`
	Metadata     Phase     `json:"metadata"`
	Modules      Phase     `json:"modules"`
	Removed      int       `json:"removed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Snapshot returns a copy of the report's current state.
func (r *Report) Snapshot() Snapshot {
	return Snapshot{
		ID:           r.id.String(),
		RepositoryID: r.repositoryID,
		Metadata:     r.metadata.clone(),
		Modules:      r.modules.clone(),
		Removed:      r.removed,
		CreatedAt:    r.createdAt,
		UpdatedAt:    r.updatedAt,
	}
}

// ReadReportFromSnapshot rebuilds a report from a stored snapshot.
func ReadReportFromSnapshot(s Snapshot) (*Report, error) {
	reportID, err := id.Parse(s.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing report id: %w", err)
	}
	return validateReport(&Report{
		id:           reportID,
		repositoryID: s.RepositoryID,
		metadata:     s.Metadata.clone(),
		modules:      s.Modules.clone(),
		removed:      s.Removed,
		createdAt:    s.CreatedAt,
		updatedAt:    s.UpdatedAt,
	})
}
