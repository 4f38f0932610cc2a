package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Run lifecycle states exposed by the status cell.
const (
	RunStateIdle      = "idle"
	RunStateRunning   = "running"
	RunStateCompleted = "completed"
)

// StatusSnapshot is a point-in-time copy of a run's progress.
type StatusSnapshot struct {
	State      string          `json:"state"`
	Subject    string          `json:"subject,omitempty"`
	Total      int             `json:"total"`
	Completed  int             `json:"completed"`
	Succeeded  int             `json:"succeeded"`
	Results    []SessionResult `json:"results,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// RunStatus is a thread-safe observable cell holding the progress of one
// orchestrator run. The orchestrator is the only writer; front-ends poll
// snapshots. When a Redis client is attached, every mutation is mirrored
// into a hash best-effort so other processes can poll the same run.
type RunStatus struct {
	mu       sync.RWMutex
	snapshot StatusSnapshot

	rdb *redis.Client
	key string
}

// NewRunStatus creates an idle status cell.
func NewRunStatus() *RunStatus {
	return &RunStatus{snapshot: StatusSnapshot{State: RunStateIdle}}
}

// MirrorToRedis attaches a Redis hash the cell keeps in sync. Safe to call
// with a nil client (mirroring stays disabled).
func (rs *RunStatus) MirrorToRedis(rdb *redis.Client, key string) {
	rs.mu.Lock()
	rs.rdb = rdb
	rs.key = key
	rs.mu.Unlock()
}

// Begin marks the run started with the given subject filter and session
// count.
func (rs *RunStatus) Begin(subject string, total int) {
	rs.mu.Lock()
	rs.snapshot = StatusSnapshot{
		State:     RunStateRunning,
		Subject:   subject,
		Total:     total,
		StartedAt: time.Now(),
	}
	rs.mirrorLocked()
	rs.mu.Unlock()
}

// Record appends one completed session result, in completion order.
func (rs *RunStatus) Record(result SessionResult) {
	rs.mu.Lock()
	rs.snapshot.Results = append(rs.snapshot.Results, result)
	rs.snapshot.Completed++
	if result.Success {
		rs.snapshot.Succeeded++
	}
	rs.mirrorLocked()
	rs.mu.Unlock()
}

// Finish marks the run completed.
func (rs *RunStatus) Finish() {
	rs.mu.Lock()
	rs.snapshot.State = RunStateCompleted
	rs.snapshot.FinishedAt = time.Now()
	rs.mirrorLocked()
	rs.mu.Unlock()
}

// Snapshot returns a copy of the current progress.
func (rs *RunStatus) Snapshot() StatusSnapshot {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	snap := rs.snapshot
	snap.Results = append([]SessionResult(nil), rs.snapshot.Results...)
	return snap
}

func (rs *RunStatus) mirrorLocked() {
	if rs.rdb == nil || rs.key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Best-effort: a mirror failure never affects the run.
	rs.rdb.HSet(ctx, rs.key,
		"state", rs.snapshot.State,
		"subject", rs.snapshot.Subject,
		"total", strconv.Itoa(rs.snapshot.Total),
		"completed", strconv.Itoa(rs.snapshot.Completed),
		"succeeded", strconv.Itoa(rs.snapshot.Succeeded),
	)
}
