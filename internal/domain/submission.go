package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Submission is one value saved by a task document through the load/save
// helpers. Value is opaque to the host.
type Submission struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	TaskID    string
	Subtask   string // empty when the task has no subtasks
	Grade     int
	Value     string
	CreatedAt time.Time
}

// BestGrade is the highest grade a session reached on a task.
type BestGrade struct {
	SessionID uuid.UUID
	TaskID    string
	Grade     int
	UpdatedAt time.Time
}

// SubmissionRepository stores submissions and keeps best grades current.
type SubmissionRepository interface {
	// Create stores s and raises the session's best grade for the task when
	// s.Grade exceeds it.
	Create(ctx context.Context, s *Submission) error

	// Latest returns the newest submission of a session for a task. An empty
	// subtask matches submissions of any subtask.
	Latest(ctx context.Context, sessionID uuid.UUID, taskID, subtask string) (*Submission, error)

	BestGrade(ctx context.Context, sessionID uuid.UUID, taskID string) (*BestGrade, error)
}

// ScaleGrade converts a percentage reported by a task into stars, rounding
// half up. With stars <= 0 the percentage is kept as is.
func ScaleGrade(percentage, stars int) int {
	if stars <= 0 {
		return percentage
	}
	return ((percentage*stars*10)/100 + 5) / 10
}
