package domain

import "time"

// WorkerHeartbeat is the last liveness report of a named worker.
type WorkerHeartbeat struct {
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
	LastSeen time.Time      `json:"last_seen"`
}

// WorkerStatus is a heartbeat with its computed online flag.
type WorkerStatus struct {
	WorkerHeartbeat
	Online bool `json:"online"`
}
