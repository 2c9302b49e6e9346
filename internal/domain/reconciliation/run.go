package reconciliation

import (
	"fmt"
	"strings"
	"time"

	"github.com/tradeledger/backend/internal/domain/shared"
)

// RunType selects what a run compares
type RunType string

const (
	RunTypeBalance RunType = "BALANCE" // Per-account balances at window end
	RunTypeTrade   RunType = "TRADE"   // Per-trade settled amounts
)

// IsValid checks if the run type is known
func (t RunType) IsValid() bool {
	return t == RunTypeBalance || t == RunTypeTrade
}

// String returns the string representation of RunType
func (t RunType) String() string {
	return string(t)
}

// RunStatus is the outcome of a run
type RunStatus string

const (
	RunStatusRunning               RunStatus = "RUNNING"
	RunStatusClean                 RunStatus = "CLEAN"
	RunStatusDiscrepanciesFound    RunStatus = "DISCREPANCIES_FOUND"
	RunStatusDiscrepanciesResolved RunStatus = "DISCREPANCIES_RESOLVED"
	RunStatusError                 RunStatus = "ERROR"
)

// String returns the string representation of RunStatus
func (s RunStatus) String() string {
	return string(s)
}

// IsFinished returns true once the run has an outcome that may be reused
func (s RunStatus) IsFinished() bool {
	return s == RunStatusClean || s == RunStatusDiscrepanciesFound || s == RunStatusDiscrepanciesResolved
}

// Window is the half-open interval [Start, End) a run covers
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow normalizes both bounds to UTC and validates them
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: start.UTC(), End: end.UTC()}
	if w.Start.IsZero() || w.End.IsZero() || !w.Start.Before(w.End) {
		return Window{}, ErrInvalidWindow.
			WithDetail("start", w.Start.Format(time.RFC3339)).
			WithDetail("end", w.End.Format(time.RFC3339))
	}
	return w, nil
}

// TrailingWindow returns the last closed window of the given length ending at
// or before now, aligned to multiples of length
func TrailingWindow(now time.Time, length time.Duration) Window {
	end := now.UTC().Truncate(length)
	return Window{Start: end.Add(-length), End: end}
}

// String renders start/end in RFC 3339
func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + "/" + w.End.Format(time.RFC3339)
}

// Cutoff is the latest instant a run may read: the window end, or the run
// start when the window is still open
func (w Window) Cutoff(runStart time.Time) time.Time {
	if runStart.Before(w.End) {
		return runStart.UTC()
	}
	return w.End
}

// Run is one execution of reconciliation for a (type, window) key
type Run struct {
	shared.BaseAggregateRoot
	Type          RunType        `json:"type"`
	Window        Window         `json:"window"`
	Sources       []string       `json:"sources"`
	Status        RunStatus      `json:"status"`
	Cutoff        time.Time      `json:"cutoff"`
	ItemsChecked  int            `json:"items_checked"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	Error         string         `json:"error,omitempty"`
	ReportKey     string         `json:"report_key,omitempty"`
	Discrepancies []*Discrepancy `json:"discrepancies"`
}

// NewRun starts a run
func NewRun(t RunType, w Window, sources []string, now time.Time) (*Run, error) {
	if !t.IsValid() {
		return nil, shared.NewDomainError("INVALID_RUN_TYPE", "Reconciliation type must be BALANCE or TRADE")
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		if n := strings.TrimSpace(s); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil, ErrNoSources
	}

	started := now.UTC()
	return &Run{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Type:              t,
		Window:            w,
		Sources:           names,
		Status:            RunStatusRunning,
		Cutoff:            w.Cutoff(started),
		StartedAt:         started,
		Discrepancies:     make([]*Discrepancy, 0),
	}, nil
}

// Key identifies runs that must produce the same outcome
func (r *Run) Key() string {
	return fmt.Sprintf("%s:%s", r.Type, r.Window)
}

// CoversWindow reports whether the run read up to the window end, which only
// holds for runs started after the window closed
func (r *Run) CoversWindow() bool {
	return r.Cutoff.Equal(r.Window.End)
}

// AddDiscrepancy attaches a discrepancy to the run
func (r *Run) AddDiscrepancy(d *Discrepancy) {
	d.RunID = r.ID
	r.Discrepancies = append(r.Discrepancies, d)
}

// Finish derives the final status from the discrepancies
func (r *Run) Finish(now time.Time) {
	finished := now.UTC()
	r.FinishedAt = &finished
	r.Status = RunStatusClean
	if len(r.Discrepancies) > 0 {
		r.Status = RunStatusDiscrepanciesResolved
		for _, d := range r.Discrepancies {
			if d.Resolution != ResolutionAutoCorrected {
				r.Status = RunStatusDiscrepanciesFound
				break
			}
		}
	}
	r.IncrementVersion()
	r.AddDomainEvent(NewRunCompletedEvent(r))
}

// Fail marks the run as errored; errored runs are re-executed on the next request
func (r *Run) Fail(err error, now time.Time) {
	finished := now.UTC()
	r.FinishedAt = &finished
	r.Status = RunStatusError
	if err != nil {
		r.Error = err.Error()
	}
	r.IncrementVersion()
	r.AddDomainEvent(NewRunCompletedEvent(r))
}

// CountByResolution tallies discrepancies per resolution
func (r *Run) CountByResolution() map[Resolution]int {
	counts := make(map[Resolution]int, 4)
	for _, d := range r.Discrepancies {
		counts[d.Resolution]++
	}
	return counts
}
