package points

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/errs"
	"github.com/kurashi-commerce/grandpay-gateway/internal/interfaces"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
)

// Reservation is a provisional points hold scoped to one checkout attempt.
// Nothing is taken from the member's real balance until Commit.
type Reservation struct {
	MemberID    int64
	Points      int64
	Discount    int64
	FinalAmount int64
}

// Ledger validates, commits and rolls back loyalty-point redemptions. The
// reconciler's winning status transition is what makes Commit and Rollback
// each happen at most once per order.
type Ledger struct {
	members interfaces.MemberRepository
	cfg     *config.Config
}

func NewLedger(members interfaces.MemberRepository, cfg *config.Config) *Ledger {
	return &Ledger{members: members, cfg: cfg}
}

// Reserve validates a requested redemption. Balance is checked before the
// minimum-amount floor; the floor exists because the gateway rejects charges
// below it, so the discount must never push the payable amount under it.
func (l *Ledger) Reserve(ctx context.Context, memberID, requestedPoints, originalAmount int64) (Reservation, error) {
	if requestedPoints <= 0 || memberID == 0 {
		return Reservation{FinalAmount: originalAmount}, nil
	}

	member, err := l.members.GetByID(ctx, memberID)
	if err != nil {
		return Reservation{}, fmt.Errorf("loading member %d: %w", memberID, err)
	}
	if member.Points < requestedPoints {
		telemetry.Logger.Info("Points reservation rejected",
			zap.Int64("member_id", memberID),
			zap.Int64("requested", requestedPoints),
			zap.Int64("balance", member.Points),
		)
		return Reservation{}, errs.ErrInsufficientBalance
	}

	discount := requestedPoints * l.cfg.PointRate
	finalAmount := originalAmount - discount
	if finalAmount < l.cfg.MinAmount {
		telemetry.Logger.Info("Points reservation below charge minimum",
			zap.Int64("member_id", memberID),
			zap.Int64("final_amount", finalAmount),
			zap.Int64("minimum", l.cfg.MinAmount),
		)
		return Reservation{}, errs.ErrBelowMinimumAmount
	}

	return Reservation{
		MemberID:    memberID,
		Points:      requestedPoints,
		Discount:    discount,
		FinalAmount: finalAmount,
	}, nil
}

// Commit decrements the member's real balance for a completed order. Reached
// only through the single winning transition to completed.
func (l *Ledger) Commit(ctx context.Context, order *models.Order) error {
	if order.PointsUsed <= 0 || order.MemberID == 0 {
		return nil
	}
	if err := l.members.AdjustPoints(ctx, order.MemberID, -order.PointsUsed); err != nil {
		return fmt.Errorf("committing %d points for order %d: %w", order.PointsUsed, order.ID, err)
	}
	telemetry.Logger.Info("Points committed",
		zap.Int64("order_id", order.ID),
		zap.Int64("member_id", order.MemberID),
		zap.Int64("points", order.PointsUsed),
	)
	return nil
}

// Rollback restores the balance recorded on the order itself; the transient
// reservation may be long gone by the time a failure notification arrives.
// Reached only through the single winning transition to failed.
func (l *Ledger) Rollback(ctx context.Context, order *models.Order) error {
	if order.PointsUsed <= 0 || order.MemberID == 0 {
		return nil
	}
	if err := l.members.AdjustPoints(ctx, order.MemberID, order.PointsUsed); err != nil {
		return fmt.Errorf("rolling back %d points for order %d: %w", order.PointsUsed, order.ID, err)
	}
	telemetry.Logger.Info("Points rolled back",
		zap.Int64("order_id", order.ID),
		zap.Int64("member_id", order.MemberID),
		zap.Int64("points", order.PointsUsed),
	)
	return nil
}
