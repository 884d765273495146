package repository

import (
	"context"

	"kassa-billing/internal/domain/model"
)

type CouponRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Coupon) error
	// FindByCode returns the coupon or domain.ErrCouponNotFound.
	FindByCode(ctx context.Context, tx Tx, code string) (*model.Coupon, error)
}
