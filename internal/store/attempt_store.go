package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/web3money/portal/internal/domain"
)

// AttemptStore is the local journal of vote submissions. It is diagnostic
// only: the backend decides whether a vote counted.
type AttemptStore struct {
	db *sql.DB
}

func NewAttemptStore(db *sql.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) Record(ctx context.Context, a domain.VoteAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vote_attempts (id, campaign_id, applicant_id, vote_page, outcome, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.CampaignID, a.ApplicantID, string(a.VotePage), a.Outcome, a.Message, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record vote attempt: %w", err)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (s *AttemptStore) Recent(ctx context.Context, limit int) ([]domain.VoteAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, applicant_id, vote_page, outcome, message, created_at
		FROM vote_attempts
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list vote attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.VoteAttempt
	for rows.Next() {
		var a domain.VoteAttempt
		var page string
		if err := rows.Scan(&a.ID, &a.CampaignID, &a.ApplicantID, &page, &a.Outcome, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote attempt: %w", err)
		}
		a.VotePage = domain.Tier(page)
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vote attempts: %w", err)
	}

	return attempts, nil
}

func (s *AttemptStore) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM vote_attempts GROUP BY outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count vote attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan vote attempt count: %w", err)
		}
		counts[outcome] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vote attempt counts: %w", err)
	}

	return counts, nil
}
