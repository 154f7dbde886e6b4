package models

// Task statuses. A task only moves queued→claimed→running→{done,failed};
// pending tasks are waiting on dependencies and cancelled is an
// administrative terminal state.
const (
	TaskPending   = "pending"
	TaskQueued    = "queued"
	TaskClaimed   = "claimed"
	TaskRunning   = "running"
	TaskDone      = "done"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// Task is a unit of orchestrated agent work.
type Task struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        *string `json:"description,omitempty"`
	Payload            *string `json:"payload,omitempty"`
	Priority           int     `json:"priority"`
	RequiresCapability *string `json:"requiresCapability,omitempty"`
	Status             string  `json:"status"`
	AssignedAgentID    *string `json:"assignedAgentId,omitempty"`
	ClaimedAt          *int64  `json:"claimedAt,omitempty"`
	StartedAt          *int64  `json:"startedAt,omitempty"`
	CompletedAt        *int64  `json:"completedAt,omitempty"`
	AttemptNumber      int     `json:"attemptNumber"`
	MaxAttempts        int     `json:"maxAttempts"`
	ErrorMessage       *string `json:"errorMessage,omitempty"`
	OutputSummary      *string `json:"outputSummary,omitempty"`
	CreatedAt          int64   `json:"createdAt"`
	UpdatedAt          int64   `json:"updatedAt"`
}

// TaskDependency gates a pending task on another task's completion.
type TaskDependency struct {
	TaskID          string `json:"taskId"`
	DependsOnTaskID string `json:"dependsOnTaskId"`
	DependencyType  string `json:"dependencyType"`
}

// Job kinds enqueued by post-write hooks.
const (
	JobEmbedMemory      = "embed_memory"
	JobDetectDuplicates = "detect_duplicates"
	JobDetectConflicts  = "detect_conflicts"
)

// Job statuses.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job is one background work item. Jobs are enqueued in the same
// transaction as the write that triggers them, so a consumer never sees a
// job for an uncommitted write.
type Job struct {
	ID           string  `json:"id"`
	Kind         string  `json:"kind"`
	TargetID     string  `json:"targetId"`
	Status       string  `json:"status"`
	Priority     int     `json:"priority"`
	RetryCount   int     `json:"retryCount"`
	MaxRetries   int     `json:"maxRetries"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
	StartedAt    *int64  `json:"startedAt,omitempty"`
	FinishedAt   *int64  `json:"finishedAt,omitempty"`
}

// WorkerLease is the singleton row authorizing one background worker to
// drain the job queue.
type WorkerLease struct {
	WorkerID    string `json:"workerId"`
	Hostname    string `json:"hostname"`
	PID         int    `json:"pid"`
	AcquiredAt  int64  `json:"acquiredAt"`
	HeartbeatAt int64  `json:"heartbeatAt"`
	ExpiresAt   int64  `json:"expiresAt"`
}
