package txn

import (
	"sync"
	"time"
)

type Status string

const (
	StatusQueued            Status = "Queued"
	StatusProcessing        Status = "Processing"
	StatusAwaitingSignature Status = "AwaitingSignature"
	StatusSuccessful        Status = "Successful"
	StatusSkipped           Status = "Skipped"
	StatusFailed            Status = "Failed"
)

// Terminal reports whether no further transition follows.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusSkipped || s == StatusFailed
}

// TransactionStatus is one (set name, attempt) entry of a run.
type TransactionStatus struct {
	Name         string    `json:"name"`
	Attempt      int       `json:"attempt"`
	Status       Status    `json:"status"`
	Items        []string  `json:"items,omitempty"`
	Signature    string    `json:"signature,omitempty"`
	ComputeUnits uint64    `json:"computeUnits,omitempty"`
	Error        string    `json:"error,omitempty"`
	ProgramError string    `json:"programError,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// StatusLog records the progress of one run. Entries are keyed by
// (name, attempt): an update to an existing key replaces it in place,
// anything else is appended.
type StatusLog struct {
	RunID string

	mu       sync.RWMutex
	entries  []TransactionStatus
	onStatus func(TransactionStatus)
}

func NewStatusLog(runID string, onStatus func(TransactionStatus)) *StatusLog {
	return &StatusLog{RunID: runID, onStatus: onStatus}
}

func (l *StatusLog) Upsert(s TransactionStatus) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	l.mu.Lock()
	replaced := false
	for i := range l.entries {
		if l.entries[i].Name == s.Name && l.entries[i].Attempt == s.Attempt {
			l.entries[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		l.entries = append(l.entries, s)
	}
	l.mu.Unlock()

	if l.onStatus != nil {
		l.onStatus(s)
	}
}

// Entries returns a snapshot of the log.
func (l *StatusLog) Entries() []TransactionStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TransactionStatus, len(l.entries))
	copy(out, l.entries)
	return out
}

// Get returns the entry for (name, attempt).
func (l *StatusLog) Get(name string, attempt int) (TransactionStatus, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.Name == name && e.Attempt == attempt {
			return e, true
		}
	}
	return TransactionStatus{}, false
}

// Signatures lists the signatures of successful entries in order.
func (l *StatusLog) Signatures() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for _, e := range l.entries {
		if e.Status == StatusSuccessful && e.Signature != "" {
			out = append(out, e.Signature)
		}
	}
	return out
}

// supersede marks entries of earlier attempts that never started as skipped.
func (l *StatusLog) supersede(attempt int) {
	var changed []TransactionStatus

	l.mu.Lock()
	for i := range l.entries {
		if l.entries[i].Attempt < attempt && l.entries[i].Status == StatusQueued {
			l.entries[i].Status = StatusSkipped
			l.entries[i].Error = "replanned"
			l.entries[i].UpdatedAt = time.Now()
			changed = append(changed, l.entries[i])
		}
	}
	l.mu.Unlock()

	if l.onStatus != nil {
		for _, s := range changed {
			l.onStatus(s)
		}
	}
}
