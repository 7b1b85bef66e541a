package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"skiff/internal/types"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PostgresRegistry is a PostgreSQL implementation of Registry
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry creates a new PostgreSQL registry
func NewPostgresRegistry(connectionString string) (*PostgresRegistry, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	registry := &PostgresRegistry{db: db}

	if err := registry.runMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return registry, nil
}

// Close closes the database connection
func (r *PostgresRegistry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// runMigrations applies database schema using goose
func (r *PostgresRegistry) runMigrations() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(r.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// AddTask adds a new task to the registry
func (r *PostgresRegistry) AddTask(ctx context.Context, task types.Task) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM tasks WHERE task_id = $1)", task.TaskID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check task existence: %w", err)
	}
	if exists {
		return ErrTaskAlreadyExists
	}

	query := `
		INSERT INTO tasks (task_id, instructions, status, worker_id, session_id, created_at, started_at, paused_at, finished_at, output, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		task.TaskID,
		task.Instructions,
		task.Status,
		nullString(task.WorkerID),
		nullString(task.SessionID),
		task.CreatedAt,
		task.StartedAt,
		task.PausedAt,
		task.FinishedAt,
		nullString(task.Output),
		nullString(task.Error),
	)

	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID
func (r *PostgresRegistry) GetTask(ctx context.Context, taskID string) (types.Task, error) {
	query := `
		SELECT task_id, instructions, status, worker_id, session_id, created_at, started_at, paused_at, finished_at, output, error
		FROM tasks
		WHERE task_id = $1
	`

	var task types.Task
	var workerID, sessionID, output, errorMsg sql.NullString

	err := r.db.QueryRowContext(ctx, query, taskID).Scan(
		&task.TaskID,
		&task.Instructions,
		&task.Status,
		&workerID,
		&sessionID,
		&task.CreatedAt,
		&task.StartedAt,
		&task.PausedAt,
		&task.FinishedAt,
		&output,
		&errorMsg,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return types.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return types.Task{}, fmt.Errorf("failed to get task: %w", err)
	}

	task.WorkerID = workerID.String
	task.SessionID = sessionID.String
	task.Output = output.String
	task.Error = errorMsg.String

	return task, nil
}

// UpdateTask updates specific fields of a task
func (r *PostgresRegistry) UpdateTask(ctx context.Context, taskID string, updates TaskUpdate) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM tasks WHERE task_id = $1)", taskID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check task existence: %w", err)
	}
	if !exists {
		return ErrTaskNotFound
	}

	query := "UPDATE tasks SET "
	var args []interface{}
	argPos := 1

	if updates.Status != nil {
		query += fmt.Sprintf("status = $%d, ", argPos)
		args = append(args, *updates.Status)
		argPos++
	}
	if updates.WorkerID != nil {
		query += fmt.Sprintf("worker_id = $%d, ", argPos)
		args = append(args, *updates.WorkerID)
		argPos++
	}
	if updates.SessionID != nil {
		query += fmt.Sprintf("session_id = $%d, ", argPos)
		args = append(args, *updates.SessionID)
		argPos++
	}
	if updates.StartedAt != nil {
		query += fmt.Sprintf("started_at = $%d, ", argPos)
		args = append(args, *updates.StartedAt)
		argPos++
	}
	if updates.PausedAt != nil {
		query += fmt.Sprintf("paused_at = $%d, ", argPos)
		args = append(args, *updates.PausedAt)
		argPos++
	}
	if updates.FinishedAt != nil {
		query += fmt.Sprintf("finished_at = $%d, ", argPos)
		args = append(args, *updates.FinishedAt)
		argPos++
	}
	if updates.Output != nil {
		query += fmt.Sprintf("output = $%d, ", argPos)
		args = append(args, *updates.Output)
		argPos++
	}
	if updates.Error != nil {
		query += fmt.Sprintf("error = $%d, ", argPos)
		args = append(args, *updates.Error)
		argPos++
	}

	query = query[:len(query)-2]
	query += fmt.Sprintf(" WHERE task_id = $%d", argPos)
	args = append(args, taskID)

	_, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	return nil
}

// ListTasks returns tasks matching the filter, newest first
func (r *PostgresRegistry) ListTasks(ctx context.Context, filter TaskFilter) ([]types.Task, error) {
	query := `
		SELECT task_id, instructions, status, worker_id, session_id, created_at, started_at, paused_at, finished_at, output, error
		FROM tasks
	`
	var args []interface{}

	if filter.Status != "" {
		query += " WHERE status = $1"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var tasks []types.Task
	for rows.Next() {
		var task types.Task
		var workerID, sessionID, output, errorMsg sql.NullString

		err := rows.Scan(
			&task.TaskID,
			&task.Instructions,
			&task.Status,
			&workerID,
			&sessionID,
			&task.CreatedAt,
			&task.StartedAt,
			&task.PausedAt,
			&task.FinishedAt,
			&output,
			&errorMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		task.WorkerID = workerID.String
		task.SessionID = sessionID.String
		task.Output = output.String
		task.Error = errorMsg.String

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// TransitionTask atomically moves a task into target with a conditional
// UPDATE, so two racing callers cannot both win the same edge
func (r *PostgresRegistry) TransitionTask(ctx context.Context, taskID string, from []types.TaskStatus, target types.TaskStatus) (types.Task, error) {
	allowed := allowedFrom(from, target)

	statuses := make([]string, len(allowed))
	for i, status := range allowed {
		statuses[i] = string(status)
	}

	set := "status = $1"
	switch target {
	case types.TaskRunning:
		set += ", started_at = COALESCE(started_at, NOW()), paused_at = NULL"
	case types.TaskPaused:
		set += ", paused_at = NOW()"
	case types.TaskStopped, types.TaskFinished, types.TaskFailed:
		set += ", finished_at = NOW()"
	}

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE task_id = $2 AND status = ANY($3)", set)

	result, err := r.db.ExecContext(ctx, query, target, taskID, pq.Array(statuses))
	if err != nil {
		return types.Task{}, fmt.Errorf("failed to transition task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return types.Task{}, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Lost the race or bad request; re-read to tell the two apart
		task, err := r.GetTask(ctx, taskID)
		if err != nil {
			return types.Task{}, err
		}
		return types.Task{}, &InvalidTransitionError{TaskID: taskID, Current: task.Status, Target: target}
	}

	return r.GetTask(ctx, taskID)
}

// AddWorker adds a new worker to the registry
func (r *PostgresRegistry) AddWorker(ctx context.Context, worker types.Worker) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM workers WHERE worker_id = $1)", worker.WorkerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check worker existence: %w", err)
	}
	if exists {
		return ErrWorkerAlreadyExists
	}

	query := `
		INSERT INTO workers (worker_id, hostname, port, status, active_sessions, capacity, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		worker.WorkerID,
		worker.Hostname,
		worker.Port,
		worker.Status,
		worker.ActiveSessions,
		worker.Capacity,
		worker.LastHeartbeat,
	)

	if err != nil {
		return fmt.Errorf("failed to insert worker: %w", err)
	}

	return nil
}

// GetWorker retrieves a worker by ID
func (r *PostgresRegistry) GetWorker(ctx context.Context, workerID string) (types.Worker, error) {
	query := `
		SELECT worker_id, hostname, port, status, active_sessions, capacity, last_heartbeat
		FROM workers
		WHERE worker_id = $1
	`

	var worker types.Worker
	err := r.db.QueryRowContext(ctx, query, workerID).Scan(
		&worker.WorkerID,
		&worker.Hostname,
		&worker.Port,
		&worker.Status,
		&worker.ActiveSessions,
		&worker.Capacity,
		&worker.LastHeartbeat,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return types.Worker{}, ErrWorkerNotFound
	}
	if err != nil {
		return types.Worker{}, fmt.Errorf("failed to get worker: %w", err)
	}

	return worker, nil
}

// UpdateWorker updates specific fields of a worker
func (r *PostgresRegistry) UpdateWorker(ctx context.Context, workerID string, updates WorkerUpdate) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM workers WHERE worker_id = $1)", workerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check worker existence: %w", err)
	}
	if !exists {
		return ErrWorkerNotFound
	}

	query := "UPDATE workers SET "
	var args []interface{}
	argPos := 1

	if updates.Status != nil {
		query += fmt.Sprintf("status = $%d, ", argPos)
		args = append(args, *updates.Status)
		argPos++
	}
	if updates.ActiveSessions != nil {
		query += fmt.Sprintf("active_sessions = $%d, ", argPos)
		args = append(args, *updates.ActiveSessions)
		argPos++
	}
	if updates.Capacity != nil {
		query += fmt.Sprintf("capacity = $%d, ", argPos)
		args = append(args, *updates.Capacity)
		argPos++
	}
	if updates.LastHeartbeat != nil {
		query += fmt.Sprintf("last_heartbeat = $%d, ", argPos)
		args = append(args, *updates.LastHeartbeat)
		argPos++
	}

	query = query[:len(query)-2]
	query += fmt.Sprintf(" WHERE worker_id = $%d", argPos)
	args = append(args, workerID)

	_, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update worker: %w", err)
	}

	return nil
}

// ListWorkers returns all workers in the registry
func (r *PostgresRegistry) ListWorkers(ctx context.Context) ([]types.Worker, error) {
	query := `
		SELECT worker_id, hostname, port, status, active_sessions, capacity, last_heartbeat
		FROM workers
		ORDER BY last_heartbeat DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var workers []types.Worker
	for rows.Next() {
		var worker types.Worker
		err := rows.Scan(
			&worker.WorkerID,
			&worker.Hostname,
			&worker.Port,
			&worker.Status,
			&worker.ActiveSessions,
			&worker.Capacity,
			&worker.LastHeartbeat,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}

		workers = append(workers, worker)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workers: %w", err)
	}

	return workers, nil
}

// AvailableWorkers returns all online workers with free session capacity
func (r *PostgresRegistry) AvailableWorkers(ctx context.Context) ([]types.Worker, error) {
	query := `
		SELECT worker_id, hostname, port, status, active_sessions, capacity, last_heartbeat
		FROM workers
		WHERE status = $1
		ORDER BY active_sessions ASC
	`

	rows, err := r.db.QueryContext(ctx, query, types.WorkerOnline)
	if err != nil {
		return nil, fmt.Errorf("failed to query available workers: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var workers []types.Worker
	for rows.Next() {
		var worker types.Worker
		err := rows.Scan(
			&worker.WorkerID,
			&worker.Hostname,
			&worker.Port,
			&worker.Status,
			&worker.ActiveSessions,
			&worker.Capacity,
			&worker.LastHeartbeat,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}

		if !worker.HasCapacity() {
			continue
		}

		workers = append(workers, worker)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workers: %w", err)
	}

	return workers, nil
}

// nullString converts an empty string to sql.NullString
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
