package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const generationColumns = `id, kind, status, stage, request_json, result_json, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (Generation, error) {
	var g Generation
	var createdAt, updatedAt string
	if err := row.Scan(&g.ID, &g.Kind, &g.Status, &g.Stage, &g.RequestJSON, &g.ResultJSON, &g.Error, &createdAt, &updatedAt); err != nil {
		return Generation{}, err
	}
	var err error
	if g.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
		return Generation{}, err
	}
	if g.UpdatedAt, err = parseTimestamp("updated_at", updatedAt); err != nil {
		return Generation{}, err
	}
	return g, nil
}

// SubmitGeneration stores g and enqueues job in one transaction, so a
// generation record never exists without the work that will finish it.
func (s *Store) SubmitGeneration(g Generation, job Job) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning submit transaction: %w", err)
	}
	defer tx.Rollback()

	now := timestamp(time.Now())
	if _, err := tx.Exec(`
		INSERT INTO generations (`+generationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Kind, g.Status, g.Stage, g.RequestJSON, g.ResultJSON, g.Error, now, now,
	); err != nil {
		return fmt.Errorf("inserting generation: %w", err)
	}
	if err := enqueueJob(tx, job); err != nil {
		return fmt.Errorf("enqueueing generation job: %w", err)
	}
	return tx.Commit()
}

// RetriggerGeneration moves a finished generation back to generating,
// clearing its previous outcome, and enqueues job for it.
func (s *Store) RetriggerGeneration(id string, from []string, job Job) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning retrigger transaction: %w", err)
	}
	defer tx.Rollback()

	if err := transition(tx, id, from, GenerationUpdate{Status: "generating"}); err != nil {
		return err
	}
	if err := enqueueJob(tx, job); err != nil {
		return fmt.Errorf("enqueueing generation job: %w", err)
	}
	return tx.Commit()
}

// TransitionGeneration applies u when the generation's current status is one
// of from. It returns ErrNotFound for an unknown id and ErrInvalidTransition
// when the status does not match.
func (s *Store) TransitionGeneration(id string, from []string, u GenerationUpdate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transition transaction: %w", err)
	}
	defer tx.Rollback()

	if err := transition(tx, id, from, u); err != nil {
		return err
	}
	return tx.Commit()
}

func transition(tx *sql.Tx, id string, from []string, u GenerationUpdate) error {
	if len(from) == 0 {
		return ErrInvalidTransition
	}
	args := []any{u.Status, u.Stage, u.ResultJSON, u.Error, timestamp(time.Now()), id}
	for _, f := range from {
		args = append(args, f)
	}
	res, err := tx.Exec(`
		UPDATE generations SET status = ?, stage = ?, result_json = ?, error = ?, updated_at = ?
		WHERE id = ? AND status IN (?`+strings.Repeat(",?", len(from)-1)+`)`, args...)
	if err != nil {
		return fmt.Errorf("updating generation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current string
	err = tx.QueryRow("SELECT status FROM generations WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, u.Status)
}

// SetGenerationStage records progress of a running generation.
func (s *Store) SetGenerationStage(id, stage string) error {
	res, err := s.db.Exec(`UPDATE generations SET stage = ?, updated_at = ? WHERE id = ? AND status = 'generating'`,
		stage, timestamp(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetGeneration(id string) (Generation, error) {
	g, err := scanGeneration(s.db.QueryRow(`SELECT `+generationColumns+` FROM generations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Generation{}, ErrNotFound
	}
	return g, err
}

// ListGenerations returns the most recent generations first.
func (s *Store) ListGenerations(limit int) ([]Generation, error) {
	rows, err := s.db.Query(`SELECT `+generationColumns+` FROM generations
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, g)
	}
	return results, rows.Err()
}
