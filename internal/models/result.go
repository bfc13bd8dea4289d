package models

import "time"

// Outcome is the user-visible state of one device after a run.
type Outcome string

const (
	OutcomeNoChange         Outcome = "no-change"
	OutcomeCommitted        Outcome = "changed-committed"
	OutcomeCommitFailed     Outcome = "changed-commit-failed"
	OutcomeConnectionFailed Outcome = "connection-failed"
	OutcomeRetrievalFailed  Outcome = "retrieval-failed"
	OutcomeStorageFailed    Outcome = "storage-failed"
	OutcomePushFailed       Outcome = "push-failed-but-committed"
	OutcomeWouldChange      Outcome = "would-change"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{
	OutcomeNoChange,
	OutcomeCommitted,
	OutcomeWouldChange,
	OutcomePushFailed,
	OutcomeCommitFailed,
	OutcomeStorageFailed,
	OutcomeRetrievalFailed,
	OutcomeConnectionFailed,
}

// BackupResult holds the result of backing up one switch.
type BackupResult struct {
	Name          string
	Connected     bool
	Changed       bool
	ChangedKinds  []ConfigKind
	Committed     bool
	CommitID      string
	PushAttempted bool
	Pushed        bool
	DryRun        bool
	Duration      time.Duration
	Error         error
}

// Failed reports whether the device ended in a failed state.
// Push failures are not failures: the commit is recorded locally.
func (r BackupResult) Failed() bool {
	return r.Error != nil
}

// Outcome maps the result to its user-visible state.
func (r BackupResult) Outcome() Outcome {
	if r.Error != nil {
		switch KindOf(r.Error) {
		case KindConnection, KindAuthentication:
			return OutcomeConnectionFailed
		case KindRetrieval:
			return OutcomeRetrievalFailed
		case KindStorage:
			return OutcomeStorageFailed
		case KindGit:
			return OutcomeCommitFailed
		default:
			if !r.Connected {
				return OutcomeConnectionFailed
			}
			return OutcomeRetrievalFailed
		}
	}
	switch {
	case !r.Changed:
		return OutcomeNoChange
	case r.DryRun:
		return OutcomeWouldChange
	case r.PushAttempted && !r.Pushed:
		return OutcomePushFailed
	default:
		return OutcomeCommitted
	}
}

// BatchSummary aggregates the results of one run.
type BatchSummary struct {
	Results   []BackupResult
	StartTime time.Time
	Duration  time.Duration
	DryRun    bool
}

// Failed reports whether any device failed.
func (s BatchSummary) Failed() bool {
	for _, r := range s.Results {
		if r.Failed() {
			return true
		}
	}
	return false
}

// Counts returns the number of devices per outcome.
func (s BatchSummary) Counts() map[Outcome]int {
	counts := make(map[Outcome]int, len(Outcomes))
	for _, r := range s.Results {
		counts[r.Outcome()]++
	}
	return counts
}

// FailedNames returns the names of failed devices in batch order.
func (s BatchSummary) FailedNames() []string {
	var names []string
	for _, r := range s.Results {
		if r.Failed() {
			names = append(names, r.Name)
		}
	}
	return names
}
