package repo

import (
	"context"
	"database/sql"
	"errors"

	"voicetrack/internal/domain"
)

// UpsertData writes value under key; created_at is kept on update.
func (r Repo) UpsertData(ctx context.Context, tx *sql.Tx, d domain.ProjectData) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_data(project_id,key,value_json,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id,key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		d.ProjectID, d.Key, d.Value, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetData(ctx context.Context, q Queryer, projectID, key string) (domain.ProjectData, error) {
	var d domain.ProjectData
	err := q.QueryRowContext(ctx, `SELECT project_id,key,value_json,created_at,updated_at FROM project_data WHERE project_id=? AND key=?`, projectID, key).
		Scan(&d.ProjectID, &d.Key, &d.Value, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, notFound("project data", key)
	}
	return d, err
}

func (r Repo) ListData(ctx context.Context, projectID, prefix string) ([]domain.ProjectData, error) {
	query := `SELECT project_id,key,value_json,created_at,updated_at FROM project_data WHERE project_id=?`
	args := []any{projectID}
	if prefix != "" {
		query += ` AND substr(key,1,?)=?`
		args = append(args, len(prefix), prefix)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY key ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ProjectData{}
	for rows.Next() {
		var d domain.ProjectData
		if err := rows.Scan(&d.ProjectID, &d.Key, &d.Value, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) DeleteData(ctx context.Context, tx *sql.Tx, projectID, key string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM project_data WHERE project_id=? AND key=?`, projectID, key)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return notFound("project data", key)
	}
	return nil
}
