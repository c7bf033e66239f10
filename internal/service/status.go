package service

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a registered service.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ServiceStatus tracks one service. Safe for concurrent use.
type ServiceStatus struct {
	name      string
	status    Status
	startedAt time.Time
	err       error
	mu        sync.RWMutex
}

// Snapshot is a point-in-time copy of a ServiceStatus, shaped for JSON.
type Snapshot struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at,omitempty"`
	UptimeSec float64   `json:"uptime_seconds"`
	Error     string    `json:"error,omitempty"`
}

func NewServiceStatus(name string) *ServiceStatus {
	return &ServiceStatus{name: name, status: StatusStopped}
}

func (ss *ServiceStatus) Name() string { return ss.name }

// Set moves to status. Entering running stamps the start time and clears
// any previous error.
func (ss *ServiceStatus) Set(status Status) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.status = status
	if status == StatusRunning {
		ss.startedAt = time.Now()
		ss.err = nil
	}
}

// Fail records err and moves to the error state.
func (ss *ServiceStatus) Fail(err error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.status = StatusError
	ss.err = err
}

func (ss *ServiceStatus) Get() Status {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.status
}

func (ss *ServiceStatus) Err() error {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.err
}

func (ss *ServiceStatus) IsRunning() bool {
	return ss.Get() == StatusRunning
}

func (ss *ServiceStatus) Snapshot() Snapshot {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	snap := Snapshot{Name: ss.name, Status: ss.status, StartedAt: ss.startedAt}
	if ss.status == StatusRunning && !ss.startedAt.IsZero() {
		snap.UptimeSec = time.Since(ss.startedAt).Seconds()
	}
	if ss.err != nil {
		snap.Error = ss.err.Error()
	}
	return snap
}
