package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/ltgvault/internal/model"
)

type ResumeStore struct {
	db *sql.DB
}

func NewResumeStore(db *sql.DB) *ResumeStore {
	return &ResumeStore{db: db}
}

func scanResume(scanner interface{ Scan(...any) error }) (*model.Resume, error) {
	var r model.Resume
	var content string
	err := scanner.Scan(&r.ID, &r.AccountID, &r.Title, &r.Template, &content, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Content = json.RawMessage(content)
	return &r, nil
}

const resumeCols = `id, account_id, title, template, content, created_at, updated_at`

func contentOrEmpty(content json.RawMessage) string {
	if len(content) == 0 {
		return "{}"
	}
	return string(content)
}

func (s *ResumeStore) Create(accountID int64, title, template string, content json.RawMessage) (*model.Resume, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO resumes (account_id, title, template, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		accountID, title, template, contentOrEmpty(content), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert resume: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(accountID, id)
}

// GetByID returns the resume only when accountID owns it.
func (s *ResumeStore) GetByID(accountID, id int64) (*model.Resume, error) {
	row := s.db.QueryRow(`SELECT `+resumeCols+` FROM resumes WHERE id = ? AND account_id = ?`, id, accountID)
	r, err := scanResume(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resume: %w", err)
	}
	return r, nil
}

func (s *ResumeStore) ListByAccount(accountID int64) ([]model.Resume, error) {
	rows, err := s.db.Query(
		`SELECT `+resumeCols+` FROM resumes WHERE account_id = ? ORDER BY updated_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list resumes: %w", err)
	}
	defer rows.Close()

	var resumes []model.Resume
	for rows.Next() {
		r, err := scanResume(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resume: %w", err)
		}
		resumes = append(resumes, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list resumes: %w", err)
	}
	return resumes, nil
}

func (s *ResumeStore) CountByAccount(accountID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM resumes WHERE account_id = ?`, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count resumes: %w", err)
	}
	return n, nil
}

func (s *ResumeStore) Update(accountID, id int64, title, template string, content json.RawMessage) (*model.Resume, error) {
	result, err := s.db.Exec(
		`UPDATE resumes SET title = ?, template = ?, content = ?, updated_at = ? WHERE id = ? AND account_id = ?`,
		title, template, contentOrEmpty(content), time.Now().UTC(), id, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("update resume: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetByID(accountID, id)
}

// Delete reports whether a resume owned by accountID was removed.
func (s *ResumeStore) Delete(accountID, id int64) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM resumes WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete resume: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
