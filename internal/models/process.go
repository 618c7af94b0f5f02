package models

// ServerStatus is the externally visible state of the supervised gnatsd process
type ServerStatus struct {
	RunID     string   `json:"run_id,omitempty"`
	State     string   `json:"state"`
	Pid       int      `json:"pid"`
	Args      []string `json:"args,omitempty"`
	Uptime    string   `json:"uptime"`
	Memory    string   `json:"memory"`
	CPU       string   `json:"cpu"`
	ExitCode  *int     `json:"exit_code,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Error     string   `json:"error,omitempty"`
	Staged    bool     `json:"staged"`
	OutputLen int64    `json:"output_bytes"`
}

// LogEntry represents a supervisor event
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Level     string `json:"level"`
	RunID     string `json:"run_id,omitempty"`
}

// Run is one recorded launch of the server
type Run struct {
	ID        string  `json:"id" db:"id"`
	Pid       int     `json:"pid" db:"pid"`
	Args      string  `json:"args" db:"args"`
	StartedAt string  `json:"started_at" db:"started_at"`
	EndedAt   *string `json:"ended_at,omitempty" db:"ended_at"`
	ExitCode  *int    `json:"exit_code,omitempty" db:"exit_code"`
	Reason    string  `json:"reason" db:"reason"`
	Error     string  `json:"error" db:"error"`
}
