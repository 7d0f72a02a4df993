package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"reviewline/internal/config"
	"reviewline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- users ---

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,role,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, u.Email, string(u.Role), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Role = domain.Role(role)
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,role,created_at FROM users WHERE email=?`, email).
		Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Role = domain.Role(role)
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	query := `SELECT id,name,email,role,created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var roleCol string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &roleCol, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = domain.Role(roleCol)
		res = append(res, u)
	}
	return res, rows.Err()
}

// --- projects ---

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,evaluator_id,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.EvaluatorID, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,evaluator_id,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &desc, &p.EvaluatorID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context, evaluatorID string) ([]domain.Project, error) {
	query := `SELECT id,name,description,evaluator_id,created_at FROM projects`
	var args []any
	if evaluatorID != "" {
		query += ` WHERE evaluator_id=?`
		args = append(args, evaluatorID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.EvaluatorID, &p.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			p.Description = desc.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- project members (assignment set) ---

func (r Repo) AddProjectMember(ctx context.Context, projectID, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO project_members(project_id,user_id,added_at) VALUES (?,?,?)`,
		projectID, userID, now)
	return err
}

func (r Repo) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM project_members WHERE project_id=? AND user_id=? LIMIT 1`, projectID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListProjectMembers(ctx context.Context, projectID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT u.id,u.name,u.email,u.role,u.created_at
FROM project_members pm JOIN users u ON u.id=pm.user_id
WHERE pm.project_id=? ORDER BY u.id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = domain.Role(role)
		res = append(res, u)
	}
	return res, rows.Err()
}

// --- stored config ---

func (r Repo) UpsertConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO configs(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM configs WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func joinClauses(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}
