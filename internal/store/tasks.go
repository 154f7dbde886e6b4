package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hoardlabs/hoard/internal/models"
)

// CreateTaskParams carries the caller-supplied fields for a new task.
type CreateTaskParams struct {
	Name               string
	Description        *string
	Payload            *string
	Priority           int
	RequiresCapability *string
	MaxAttempts        int
	DependsOn          []string
}

// CreateTask inserts a task. With dependencies it starts pending and is
// promoted to queued once every dependency completes.
func CreateTask(tx *sql.Tx, p CreateTaskParams) (*models.Task, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: task name is required", ErrIntegrityViolation)
	}
	if p.Priority == 0 {
		p.Priority = 5
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	status := models.TaskQueued
	if len(p.DependsOn) > 0 {
		status = models.TaskPending
	}
	id := "tsk-" + uuid.NewString()
	now := nowMillis()

	_, err := tx.Exec(`
		INSERT INTO tasks (
			id, name, description, payload, priority, requires_capability,
			status, max_attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, p.Name, p.Description, p.Payload, p.Priority, p.RequiresCapability,
		status, p.MaxAttempts, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	for _, dep := range p.DependsOn {
		if _, err := tx.Exec(`
			INSERT INTO task_dependencies (task_id, depends_on_task_id, dependency_type)
			VALUES (?, ?, 'completion')
		`, id, dep); err != nil {
			return nil, fmt.Errorf("insert task dependency: %w", err)
		}
	}
	return GetTask(tx, id)
}

// GetTask fetches one task by id.
func GetTask(q Querier, id string) (*models.Task, error) {
	row := q.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// PollTasks promotes ready pending tasks, then lists queued tasks an agent
// could claim, filtered by its capabilities.
func PollTasks(tx *sql.Tx, agentID string, capabilities []string, limit int) ([]*models.Task, error) {
	if err := PromoteReadyTasks(tx); err != nil {
		return nil, err
	}
	rows, err := tx.Query(`
		SELECT `+taskCols+` FROM tasks
		WHERE status = 'queued'
		  AND (assigned_agent_id IS NULL OR assigned_agent_id = ?)
		ORDER BY priority ASC, created_at ASC
		LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("poll tasks: %w", err)
	}
	defer rows.Close()

	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if t.RequiresCapability != nil && !caps[*t.RequiresCapability] {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClaimTask is the canonical optimistic guard: one conditional update whose
// affected-row count decides the race. Zero rows means another agent won;
// the caller reports "not claimed" rather than an error.
func ClaimTask(tx *sql.Tx, taskID, agentID string) (*models.Task, error) {
	now := nowMillis()
	res, err := tx.Exec(`
		UPDATE tasks
		SET status = 'claimed', assigned_agent_id = ?, claimed_at = ?, updated_at = ?,
		    attempt_number = attempt_number + 1
		WHERE id = ?
		  AND status = 'queued'
		  AND (assigned_agent_id IS NULL OR assigned_agent_id = ?)
	`, agentID, now, now, taskID, agentID)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim task rows: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return GetTask(tx, taskID)
}

// StartTask moves a claimed task to running. Guarded on the claimer.
func StartTask(tx *sql.Tx, taskID, agentID string) (bool, error) {
	now := nowMillis()
	res, err := tx.Exec(`
		UPDATE tasks SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = ? AND assigned_agent_id = ? AND status = 'claimed'
	`, now, now, taskID, agentID)
	if err != nil {
		return false, fmt.Errorf("start task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("start task rows: %w", err)
	}
	return n > 0, nil
}

// CompleteTask finishes a task the agent holds.
func CompleteTask(tx *sql.Tx, taskID, agentID string, outputSummary *string) (bool, error) {
	now := nowMillis()
	res, err := tx.Exec(`
		UPDATE tasks
		SET status = 'done', completed_at = ?, updated_at = ?, output_summary = ?
		WHERE id = ? AND assigned_agent_id = ? AND status IN ('running','claimed')
	`, now, now, outputSummary, taskID, agentID)
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete task rows: %w", err)
	}
	return n > 0, nil
}

// FailTask records a failure. With attempts remaining the task goes back to
// queued for another claim; otherwise it is terminal.
func FailTask(tx *sql.Tx, taskID, agentID string, errMsg *string) (bool, error) {
	var attempt, max int
	err := tx.QueryRow(`SELECT attempt_number, max_attempts FROM tasks WHERE id = ?`, taskID).
		Scan(&attempt, &max)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read task attempts: %w", err)
	}
	now := nowMillis()

	if max > 0 && attempt < max {
		res, err := tx.Exec(`
			UPDATE tasks
			SET status = 'queued', assigned_agent_id = NULL, started_at = NULL,
			    claimed_at = NULL, updated_at = ?, error_message = ?
			WHERE id = ? AND assigned_agent_id = ? AND status IN ('running','claimed')
		`, now, errMsg, taskID, agentID)
		if err != nil {
			return false, fmt.Errorf("requeue task: %w", err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}

	res, err := tx.Exec(`
		UPDATE tasks
		SET status = 'failed', completed_at = ?, updated_at = ?, error_message = ?
		WHERE id = ? AND assigned_agent_id = ? AND status IN ('running','claimed')
	`, now, now, errMsg, taskID, agentID)
	if err != nil {
		return false, fmt.Errorf("fail task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelTask terminates a non-terminal task administratively.
func CancelTask(tx *sql.Tx, taskID string, reason *string) (bool, error) {
	now := nowMillis()
	res, err := tx.Exec(`
		UPDATE tasks
		SET status = 'cancelled', completed_at = ?, updated_at = ?, error_message = ?
		WHERE id = ? AND status NOT IN ('done','failed','cancelled')
	`, now, now, reason, taskID)
	if err != nil {
		return false, fmt.Errorf("cancel task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListTasks filters tasks by status and agent, newest first.
func ListTasks(q Querier, status, agentID string, limit int) ([]*models.Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if agentID != "" {
		query += ` AND assigned_agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PromoteReadyTasks moves pending tasks whose dependencies are all done to
// queued.
func PromoteReadyTasks(tx *sql.Tx) error {
	_, err := tx.Exec(`
		UPDATE tasks SET status = 'queued', updated_at = ?
		WHERE status = 'pending'
		  AND NOT EXISTS (
		    SELECT 1 FROM task_dependencies d
		    JOIN tasks dep ON dep.id = d.depends_on_task_id
		    WHERE d.task_id = tasks.id AND dep.status != 'done'
		  )
	`, nowMillis())
	if err != nil {
		return fmt.Errorf("promote ready tasks: %w", err)
	}
	return nil
}

const taskCols = `id, name, description, payload, priority, requires_capability,
  status, assigned_agent_id, claimed_at, started_at, completed_at,
  attempt_number, max_attempts, error_message, output_summary, created_at, updated_at`

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.Payload, &t.Priority, &t.RequiresCapability,
		&t.Status, &t.AssignedAgentID, &t.ClaimedAt, &t.StartedAt, &t.CompletedAt,
		&t.AttemptNumber, &t.MaxAttempts, &t.ErrorMessage, &t.OutputSummary,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
