package autodebit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	paymentservice "github.com/smallbiznis/previsora/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Record is one settlement line from the card processor's file.
type Record struct {
	// MemberRef is the member ID as printed in the settlement file.
	MemberRef string `json:"member_ref"`
	Amount    int64  `json:"amount"`
	Approved  bool   `json:"approved"`
	SettledAt string `json:"settled_at,omitempty"`
	CardRef   string `json:"card_ref,omitempty"`
}

// Summary counts the outcomes of one import run.
type Summary struct {
	Total      int `json:"total"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Payments *paymentservice.Service
}

type Importer struct {
	log      *zap.Logger
	payments *paymentservice.Service
}

func NewImporter(p Params) *Importer {
	return &Importer{
		log:      p.Log.Named("autodebit"),
		payments: p.Payments,
	}
}

// idempotencyNamespace scopes settlement keys away from every other key
// source. Never change it: a new namespace would re-post old files.
var idempotencyNamespace = uuid.MustParse("7c9e6f0a-3d42-4b58-9f11-2a80c4b6d901")

// Key derives the deterministic idempotency key for one settlement line.
// The same batch, member and line always map to the same key, so replayed
// files dedupe at the payments table.
func Key(batchID, memberRef, settledAt string, amount int64) string {
	seed := fmt.Sprintf("%s|%s|%s|%d", batchID, memberRef, settledAt, amount)
	return uuid.NewSHA1(idempotencyNamespace, []byte(seed)).String()
}

// Import posts every record of a settlement batch. Approved lines run the
// full posting flow and land settled; rejected lines are kept as draft
// audit rows with no financial effect. A failing line never stops the
// batch.
func (i *Importer) Import(ctx context.Context, batchID string, records []Record) (*Summary, error) {
	if batchID == "" {
		return nil, fmt.Errorf("batch id is required")
	}

	summary := &Summary{Total: len(records)}
	for idx, rec := range records {
		result, err := i.importOne(ctx, batchID, rec)
		if err != nil {
			summary.Failed++
			i.log.Warn("settlement line failed",
				zap.String("batch_id", batchID),
				zap.Int("line", idx),
				zap.String("member_ref", rec.MemberRef),
				zap.Error(err),
			)
			continue
		}
		if result.Replayed {
			summary.Duplicates++
			continue
		}
		if rec.Approved {
			summary.Approved++
		} else {
			summary.Rejected++
		}
	}

	i.log.Info("settlement batch imported",
		zap.String("batch_id", batchID),
		zap.Int("total", summary.Total),
		zap.Int("approved", summary.Approved),
		zap.Int("rejected", summary.Rejected),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (i *Importer) importOne(ctx context.Context, batchID string, rec Record) (*paymentservice.PostResult, error) {
	memberID, err := parseMemberRef(rec.MemberRef)
	if err != nil {
		return nil, err
	}

	req := paymentservice.PostRequest{
		IdempotencyKey: Key(batchID, rec.MemberRef, rec.SettledAt, rec.Amount),
		MemberID:       memberID,
		Amount:         rec.Amount,
		Method:         paymentdomain.MethodAutoDebit,
		Channel:        paymentdomain.ChannelCard,
		ExternalRef:    rec.CardRef,
		Metadata: map[string]any{
			"batch_id":   batchID,
			"settled_at": rec.SettledAt,
		},
	}
	if rec.Approved {
		req.Settled = true
		// The bank already took the money; an up-to-date member's charge
		// carries forward to the next period instead of bouncing.
		req.AllowPrepay = true
	} else {
		req.DraftOnly = true
		req.Metadata["auto_debit_rejected"] = true
	}

	return i.payments.Post(ctx, req)
}

var Module = fx.Module("autodebit",
	fx.Provide(NewImporter),
)

func parseMemberRef(ref string) (snowflake.ID, error) {
	raw, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("member ref %q: %w", ref, paymentdomain.ErrMemberNotFound)
	}
	return snowflake.ID(raw), nil
}

