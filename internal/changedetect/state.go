package changedetect

import (
	"sync/atomic"
	"time"
)

// RunState is the job's single-flight state.
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
)

func (s RunState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// guard is the Idle -> Running -> Idle state machine. Only the caller that
// wins acquire may call release.
type guard struct {
	state atomic.Int32
}

func (g *guard) acquire() bool {
	return g.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))
}

func (g *guard) release() {
	g.state.Store(int32(StateIdle))
}

func (g *guard) current() RunState {
	return RunState(g.state.Load())
}

// OrderError records a per-order failure that did not stop the run.
type OrderError struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber,omitempty"`
	Message     string `json:"message"`
}

// RunStats summarizes one run.
type RunStats struct {
	StartedAt       time.Time    `json:"startedAt"`
	FinishedAt      time.Time    `json:"finishedAt"`
	OrdersScanned   int          `json:"ordersScanned"`
	OrdersSkipped   int          `json:"ordersSkipped"`
	ChangesDetected int          `json:"changesDetected"`
	NewChanges      int          `json:"newChanges"`
	OrdersTagged    int          `json:"ordersTagged"`
	Evicted         int          `json:"evicted"`
	Errors          []OrderError `json:"errors"`
}

func (s *RunStats) recordError(orderID, orderNumber string, err error) {
	s.Errors = append(s.Errors, OrderError{OrderID: orderID, OrderNumber: orderNumber, Message: err.Error()})
}

// Status is the externally visible job state.
type Status struct {
	State          string     `json:"state"`
	Enabled        bool       `json:"enabled"`
	AutoTag        bool       `json:"autoTag"`
	LastStartedAt  *time.Time `json:"lastStartedAt,omitempty"`
	LastFinishedAt *time.Time `json:"lastFinishedAt,omitempty"`
	LastStats      *RunStats  `json:"lastStats,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}
