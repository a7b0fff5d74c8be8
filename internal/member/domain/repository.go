package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the member store contract consumed by pricing and payments.
type Repository interface {
	FindByID(ctx context.Context, id snowflake.ID) (*Member, error)
	FindByGroup(ctx context.Context, groupID int64) ([]*Member, error)
	// UpdateManyByGroup applies the same column updates to every member of
	// the group and returns the number of rows touched.
	UpdateManyByGroup(ctx context.Context, groupID int64, updates map[string]any) (int64, error)
	UpdateAge(ctx context.Context, id snowflake.ID, age *int) error
	DistinctGroupIDs(ctx context.Context) ([]int64, error)
	// ZeroQuotaGroupIDs lists groups whose members all carry a zero ideal
	// quota, used by the repricing fixer batch.
	ZeroQuotaGroupIDs(ctx context.Context) ([]int64, error)
	WithTrx(tx *gorm.DB) Repository
}
