package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
)

type MemberRepository struct {
	db *sql.DB
}

func NewMemberRepository(db *sql.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) GetByID(ctx context.Context, id int64) (*models.Member, error) {
	var m models.Member
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(name, ''), points FROM members WHERE id = $1`,
		id).Scan(&m.ID, &m.Email, &m.Name, &m.Points)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MemberRepository) GetByEmail(ctx context.Context, email string) (*models.Member, error) {
	var m models.Member
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(name, ''), points FROM members WHERE email = $1`,
		email).Scan(&m.ID, &m.Email, &m.Name, &m.Points)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AdjustPoints applies the delta only when it keeps the balance non-negative;
// the guard lives in the WHERE clause so concurrent adjustments cannot
// overdraw.
func (r *MemberRepository) AdjustPoints(ctx context.Context, memberID int64, delta int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE members SET points = points + $1
		WHERE id = $2 AND points + $1 >= 0
	`, delta, memberID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("points adjustment of %d rejected for member %d", delta, memberID)
	}
	return nil
}
