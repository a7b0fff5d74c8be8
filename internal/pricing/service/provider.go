package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/previsora/internal/clock"
	"github.com/smallbiznis/previsora/internal/config"
	"github.com/smallbiznis/previsora/internal/pricing/domain"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
}

// Provider is a read-through TTL cache over the persisted pricing rules.
// Load order on a cache miss: settings row, then environment overrides,
// then built-in defaults. Invalid persisted payloads are discarded in favor
// of defaults rather than surfaced to callers.
type Provider struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	ttl   time.Duration
	env   *viper.Viper

	mu        sync.Mutex
	cached    domain.Rules
	fetchedAt time.Time
}

func NewProvider(p Params) domain.Provider {
	env := viper.New()
	env.SetEnvPrefix("PREVISORA")
	env.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	env.AutomaticEnv()

	return &Provider{
		db:    p.DB,
		log:   p.Log.Named("pricing.provider"),
		clock: p.Clock,
		ttl:   p.Config.RulesCacheTTL,
		env:   env,
	}
}

func (p *Provider) Get(ctx context.Context) domain.Rules {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if !p.fetchedAt.IsZero() && now.Sub(p.fetchedAt) < p.ttl {
		return p.cached
	}

	rules := p.load(ctx)
	p.cached = rules
	p.fetchedAt = now
	return rules
}

func (p *Provider) Update(ctx context.Context, rules domain.Rules) (domain.Rules, error) {
	normalized := rules.Normalize()
	if err := normalized.Validate(); err != nil {
		return domain.Rules{}, err
	}

	payload, err := json.Marshal(normalized)
	if err != nil {
		return domain.Rules{}, err
	}

	err = p.db.WithContext(ctx).Exec(
		`INSERT INTO billing_settings (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		domain.SettingKeyPricingRules,
		datatypes.JSON(payload),
		p.clock.Now(),
	).Error
	if err != nil {
		return domain.Rules{}, err
	}

	p.mu.Lock()
	p.cached = normalized
	p.fetchedAt = p.clock.Now()
	p.mu.Unlock()

	p.log.Info("pricing rules updated", zap.Int64("base_fee", normalized.BaseFee))
	return normalized, nil
}

func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}

func (p *Provider) load(ctx context.Context) domain.Rules {
	var setting domain.BillingSetting
	err := p.db.WithContext(ctx).
		Where("key = ?", domain.SettingKeyPricingRules).
		First(&setting).Error
	switch {
	case err == nil:
		var rules domain.Rules
		if jsonErr := json.Unmarshal(setting.Value, &rules); jsonErr == nil {
			normalized := rules.Normalize()
			if normalized.Validate() == nil {
				return normalized
			}
			p.log.Warn("persisted pricing rules invalid, using defaults")
		} else {
			p.log.Warn("persisted pricing rules unreadable, using defaults", zap.Error(jsonErr))
		}
	case err == gorm.ErrRecordNotFound:
	default:
		p.log.Warn("failed to load pricing rules, using defaults", zap.Error(err))
	}

	return p.withEnvOverrides(domain.DefaultRules()).Normalize()
}

// withEnvOverrides applies PREVISORA_PRICING_* environment values on top of
// the defaults. Only scalar knobs are overridable; the factor table and age
// ladder are managed through Update.
func (p *Provider) withEnvOverrides(rules domain.Rules) domain.Rules {
	if v := p.env.GetInt64("pricing.base_fee"); v > 0 {
		rules.BaseFee = v
	}
	if p.env.IsSet("pricing.cremation_coef") {
		if v := p.env.GetFloat64("pricing.cremation_coef"); v >= 0 {
			rules.CremationCoef = v
		}
	}
	if v := p.env.GetInt("pricing.neutral_at"); v >= 1 {
		rules.Group.NeutralAt = v
	}
	if p.env.IsSet("pricing.step") {
		if v := p.env.GetFloat64("pricing.step"); v >= 0 {
			rules.Group.Step = v
		}
	}
	return rules
}
