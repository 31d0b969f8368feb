package repo

import (
	"context"
	"database/sql"
	"errors"

	"voicetrack/internal/domain"
)

func (r Repo) InsertStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stages(project_id,id,title,description,ord,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		s.ProjectID, s.ID, s.Title, nullable(s.Description), s.Order, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(project_id,stage_id,id,title,description,ord,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ProjectID, t.StageID, t.ID, t.Title, nullable(t.Description), t.Order, string(t.Status), t.CreatedAt, t.UpdatedAt)
	return err
}

// ListStages returns the project's stages ordered by order, each with its
// tasks ordered by order. Derived fields are left zero.
func (r Repo) ListStages(ctx context.Context, q Queryer, projectID string) ([]domain.Stage, error) {
	rows, err := q.QueryContext(ctx, `SELECT project_id,id,title,COALESCE(description,''),ord,created_at,updated_at FROM stages WHERE project_id=? ORDER BY ord ASC`, projectID)
	if err != nil {
		return nil, err
	}
	var stages []domain.Stage
	index := map[string]int{}
	for rows.Next() {
		var s domain.Stage
		if err := rows.Scan(&s.ProjectID, &s.ID, &s.Title, &s.Description, &s.Order, &s.CreatedAt, &s.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		s.Tasks = []domain.Task{}
		index[s.ID] = len(stages)
		stages = append(stages, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks, err := r.listTasks(ctx, q, `WHERE project_id=? ORDER BY stage_id, ord ASC`, projectID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if i, ok := index[t.StageID]; ok {
			stages[i].Tasks = append(stages[i].Tasks, t)
		}
	}
	return stages, nil
}

// GetStage loads one stage with its tasks.
func (r Repo) GetStage(ctx context.Context, q Queryer, projectID, stageID string) (domain.Stage, error) {
	var s domain.Stage
	err := q.QueryRowContext(ctx, `SELECT project_id,id,title,COALESCE(description,''),ord,created_at,updated_at FROM stages WHERE project_id=? AND id=?`, projectID, stageID).
		Scan(&s.ProjectID, &s.ID, &s.Title, &s.Description, &s.Order, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, notFound("stage", stageID)
	}
	if err != nil {
		return s, err
	}
	s.Tasks, err = r.listTasks(ctx, q, `WHERE project_id=? AND stage_id=? ORDER BY ord ASC`, projectID, stageID)
	if err != nil {
		return s, err
	}
	if s.Tasks == nil {
		s.Tasks = []domain.Task{}
	}
	return s, nil
}

func (r Repo) listTasks(ctx context.Context, q Queryer, where string, args ...any) ([]domain.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT project_id,stage_id,id,title,COALESCE(description,''),ord,status,created_at,updated_at FROM tasks `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var status string
		if err := rows.Scan(&t.ProjectID, &t.StageID, &t.ID, &t.Title, &t.Description, &t.Order, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = domain.TaskStatus(status)
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, projectID, stageID, taskID string, status domain.TaskStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE project_id=? AND stage_id=? AND id=?`,
		string(status), updatedAt, projectID, stageID, taskID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return notFound("task", taskID)
	}
	return nil
}

func (r Repo) TouchStage(ctx context.Context, tx *sql.Tx, projectID, stageID, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE stages SET updated_at=? WHERE project_id=? AND id=?`, updatedAt, projectID, stageID)
	return err
}
