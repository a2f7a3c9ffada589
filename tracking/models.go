package tracking

import "time"

type Status int

const (
	StatusPending Status = iota
	StatusSending
	StatusSent
	StatusFailed
	StatusDropped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusSending:
		return "Sending"
	case StatusSent:
		return "Sent"
	case StatusFailed:
		return "Failed"
	case StatusDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

func (s Status) Final() bool {
	return s == StatusSent || s == StatusFailed || s == StatusDropped
}

type Task struct {
	ID         string    `json:"id"`
	Event      Event     `json:"event"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}
