package recompute

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/previsora/internal/clock"
	"github.com/smallbiznis/previsora/internal/config"
	memberdomain "github.com/smallbiznis/previsora/internal/member/domain"
	"github.com/smallbiznis/previsora/internal/observability/metrics"
	"github.com/smallbiznis/previsora/internal/outbox"
	pricingdomain "github.com/smallbiznis/previsora/internal/pricing/domain"
	"github.com/smallbiznis/previsora/internal/pricing/engine"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GroupSummary reports the outcome of repricing one group.
type GroupSummary struct {
	GroupID        int64 `json:"group_id"`
	Quota          int64 `json:"quota"`
	MemberCount    int   `json:"member_count"`
	MaxAge         int   `json:"max_age"`
	CremationCount int   `json:"cremation_count"`
	// Matched counts members found in the group, Modified the rows whose
	// quota actually changed.
	Matched  int `json:"matched"`
	Modified int `json:"modified"`
}

// BatchSummary aggregates a batch run over many groups.
type BatchSummary struct {
	Groups   int `json:"groups"`
	Modified int `json:"modified"`
	Failed   int `json:"failed"`
}

// Progress is emitted per finished group during batch runs.
type Progress struct {
	GroupID int64
	Summary *GroupSummary
	Err     error
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	Provider   pricingdomain.Provider
	MemberRepo memberdomain.Repository
	Outbox     *outbox.Outbox
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	provider   pricingdomain.Provider
	memberRepo memberdomain.Repository
	outbox     *outbox.Outbox
	workers    int
}

func NewService(p Params) *Service {
	workers := p.Config.RecomputeWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("pricing.recompute"),
		clock:      p.Clock,
		provider:   p.Provider,
		memberRepo: p.MemberRepo,
		outbox:     p.Outbox,
		workers:    workers,
	}
}

// RecomputeGroup refreshes ages from birth dates, aggregates the group's
// active members and writes the derived quota to every member row. The
// operation is idempotent: running it twice against unchanged member data
// produces identical quotas and zero modifications on the second run.
func (s *Service) RecomputeGroup(ctx context.Context, groupID int64) (*GroupSummary, error) {
	started := time.Now()
	defer func() {
		metrics.Billing().ObserveRecomputeDuration(time.Since(started))
	}()

	members, err := s.memberRepo.FindByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return &GroupSummary{GroupID: groupID}, nil
	}

	now := s.clock.Now()
	for _, m := range members {
		age, ok := m.ResolveAge(now)
		if !ok {
			continue
		}
		if m.Age != nil && *m.Age == age {
			continue
		}
		if err := s.memberRepo.UpdateAge(ctx, m.ID, &age); err != nil {
			return nil, err
		}
		m.Age = &age
	}

	summary := &GroupSummary{GroupID: groupID, Matched: len(members)}
	for _, m := range members {
		if !m.IsActive() {
			continue
		}
		summary.MemberCount++
		if m.Age != nil && *m.Age > summary.MaxAge {
			summary.MaxAge = *m.Age
		}
		if m.Cremation {
			summary.CremationCount++
		}
	}

	// A group with no active members carries no charge at all.
	if summary.MemberCount > 0 {
		rules := s.provider.Get(ctx)
		summary.Quota = engine.ComputeIdealQuota(engine.Input{
			MemberCount:    summary.MemberCount,
			MaxAge:         summary.MaxAge,
			CremationCount: summary.CremationCount,
		}, rules)
	}

	modified, err := s.persist(ctx, members, summary)
	if err != nil {
		return nil, err
	}
	summary.Modified = modified

	if modified > 0 {
		s.log.Info("group repriced",
			zap.Int64("group_id", groupID),
			zap.Int64("quota", summary.Quota),
			zap.Int("members", summary.MemberCount),
			zap.Int("modified", modified),
		)
	}
	return summary, nil
}

// persist writes the derived quota and the group's policy max age to every
// member row, so a statement or export read from any row of the group sees
// the same pricing inputs.
func (s *Service) persist(ctx context.Context, members []*memberdomain.Member, summary *GroupSummary) (int, error) {
	changed := 0
	for _, m := range members {
		if m.IdealQuota != summary.Quota {
			changed++
		}
	}
	if _, err := s.memberRepo.UpdateManyByGroup(ctx, summary.GroupID, map[string]any{
		"ideal_quota":    summary.Quota,
		"policy_max_age": summary.MaxAge,
	}); err != nil {
		return 0, err
	}
	return changed, nil
}

// RecomputeAll reprices every known group with a bounded worker pool.
// Progress, when non-nil, receives one message per finished group; the
// channel is not closed so the caller may reuse it.
func (s *Service) RecomputeAll(ctx context.Context, progress chan<- Progress) (*BatchSummary, error) {
	groupIDs, err := s.memberRepo.DistinctGroupIDs(ctx)
	if err != nil {
		return nil, err
	}
	return s.runBatch(ctx, groupIDs, progress)
}

// RecomputeZeroQuota reprices only the groups whose members all carry a
// zero quota, typically after imports that bypass pricing.
func (s *Service) RecomputeZeroQuota(ctx context.Context, progress chan<- Progress) (*BatchSummary, error) {
	groupIDs, err := s.memberRepo.ZeroQuotaGroupIDs(ctx)
	if err != nil {
		return nil, err
	}
	return s.runBatch(ctx, groupIDs, progress)
}

func (s *Service) runBatch(ctx context.Context, groupIDs []int64, progress chan<- Progress) (*BatchSummary, error) {
	jobs := make(chan int64)
	results := make(chan Progress)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for groupID := range jobs {
				summary, err := s.RecomputeGroup(ctx, groupID)
				results <- Progress{GroupID: groupID, Summary: summary, Err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range groupIDs {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	batch := &BatchSummary{}
	for res := range results {
		batch.Groups++
		if res.Err != nil {
			batch.Failed++
			metrics.Billing().IncRecompute("error")
			s.log.Warn("group recompute failed", zap.Int64("group_id", res.GroupID), zap.Error(res.Err))
		} else if res.Summary != nil {
			batch.Modified += res.Summary.Modified
			if res.Summary.Modified > 0 {
				metrics.Billing().IncRecompute("modified")
			} else {
				metrics.Billing().IncRecompute("unchanged")
			}
		}
		if progress != nil {
			progress <- res
		}
	}

	if batch.Modified > 0 {
		err := s.outbox.PublishTx(ctx, s.db, outbox.TopicGroupRepriced, map[string]any{
			"groups":   batch.Groups,
			"modified": batch.Modified,
			"failed":   batch.Failed,
		}, "")
		if err != nil {
			s.log.Warn("repriced event not published", zap.Error(err))
		}
	}
	return batch, ctx.Err()
}
