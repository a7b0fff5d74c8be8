package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	memberdomain "github.com/smallbiznis/previsora/internal/member/domain"
	"github.com/smallbiznis/previsora/pkg/db/option"
	pkgrepository "github.com/smallbiznis/previsora/pkg/repository"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB *gorm.DB
}

type repository struct {
	db    *gorm.DB
	store pkgrepository.Repository[memberdomain.Member]
}

func NewRepository(p Params) memberdomain.Repository {
	return &repository{
		db:    p.DB,
		store: pkgrepository.ProvideStore[memberdomain.Member](p.DB),
	}
}

func (r *repository) WithTrx(tx *gorm.DB) memberdomain.Repository {
	return &repository{
		db:    tx,
		store: r.store.WithTrx(tx),
	}
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*memberdomain.Member, error) {
	return r.store.FindOne(ctx, &memberdomain.Member{ID: id})
}

func (r *repository) FindByGroup(ctx context.Context, groupID int64) ([]*memberdomain.Member, error) {
	return r.store.Find(ctx, &memberdomain.Member{GroupID: groupID}, option.WithOrderBy("id"))
}

func (r *repository) UpdateManyByGroup(ctx context.Context, groupID int64, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&memberdomain.Member{}).
		Where("group_id = ?", groupID).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *repository) UpdateAge(ctx context.Context, id snowflake.ID, age *int) error {
	return r.db.WithContext(ctx).
		Model(&memberdomain.Member{}).
		Where("id = ?", id).
		Update("age", age).Error
}

func (r *repository) DistinctGroupIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&memberdomain.Member{}).
		Distinct("group_id").
		Order("group_id").
		Pluck("group_id", &ids).Error
	return ids, err
}

func (r *repository) ZeroQuotaGroupIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT group_id
		 FROM members
		 GROUP BY group_id
		 HAVING MAX(ideal_quota) = 0`,
	).Scan(&ids).Error
	return ids, err
}
