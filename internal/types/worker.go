package types

import "time"

// WorkerStatus represents the current state of a browser worker
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerOffline WorkerStatus = "offline"
)

// DefaultWorkerCapacity is the session limit assumed for workers that
// register without advertising one
const DefaultWorkerCapacity = 4

// Worker represents a browser worker registered with the controller
type Worker struct {
	WorkerID       string       `json:"workerId"`
	Hostname       string       `json:"hostname"`
	Port           int          `json:"port"`
	Status         WorkerStatus `json:"status"`
	ActiveSessions int          `json:"activeSessions"`
	Capacity       int          `json:"capacity"`
	LastHeartbeat  time.Time    `json:"lastHeartbeat"`
}

// HasCapacity reports whether the worker can accept another browser session
func (w *Worker) HasCapacity() bool {
	capacity := w.Capacity
	if capacity <= 0 {
		capacity = DefaultWorkerCapacity
	}
	return w.ActiveSessions < capacity
}
