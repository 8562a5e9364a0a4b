package queries

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

type MemberRepository struct {
	db *sql.DB
}

func NewMemberRepository(db *sql.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// ReplaceAll swaps the stored member set for records, keeping their order.
func (r *MemberRepository) ReplaceAll(ctx context.Context, records []models.MemberRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pool_members`); err != nil {
		return fmt.Errorf("failed to clear members: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pool_members (id, config, health, position, created_at)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Config, rec.Health, i, rec.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert member %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

func (r *MemberRepository) List(ctx context.Context) ([]models.MemberRecord, error) {
	query := `
		SELECT id, config, health, created_at
		FROM pool_members
		ORDER BY position ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.MemberRecord
	for rows.Next() {
		var rec models.MemberRecord
		if err := rows.Scan(&rec.ID, &rec.Config, &rec.Health, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
