package queries

import (
	"context"
	"database/sql"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

type TransitionRepository struct {
	db *sql.DB
}

func NewTransitionRepository(db *sql.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

func (r *TransitionRepository) Insert(ctx context.Context, t *models.MemberTransition) error {
	query := `
		INSERT INTO member_transitions (member_id, from_state, to_state, reason, forced, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query, t.MemberID, t.From, t.To, t.Reason, t.Forced, t.Timestamp)
	return err
}

func (r *TransitionRepository) GetByMember(ctx context.Context, memberID string, limit int) ([]models.MemberTransition, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT member_id, from_state, to_state, reason, forced, occurred_at
		FROM member_transitions
		WHERE member_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []models.MemberTransition
	for rows.Next() {
		var t models.MemberTransition
		if err := rows.Scan(&t.MemberID, &t.From, &t.To, &t.Reason, &t.Forced, &t.Timestamp); err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}

	return transitions, rows.Err()
}
