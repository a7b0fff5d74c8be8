package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	appconfig "github.com/smallbiznis/previsora/internal/config"
	receiptdomain "github.com/smallbiznis/previsora/internal/receipt/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Config appconfig.Config
}

// Provider renders receipt PDFs to the configured directory.
type Provider struct {
	log     *zap.Logger
	dir     string
	baseURL string
	appName string
}

func NewProvider(p Params) receiptdomain.Generator {
	return &Provider{
		log:     p.Log.Named("pdf.provider"),
		dir:     p.Config.ReceiptDir,
		baseURL: p.Config.ReceiptURL,
		appName: p.Config.AppName,
	}
}

func (p *Provider) Generate(ctx context.Context, data receiptdomain.Data) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	association := data.Association
	if association == "" {
		association = p.appName
	}
	m.AddRow(8,
		text.NewCol(12, association, props.Text{
			Size:  10,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		text.NewCol(8, "Payment receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.Number, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(8).Add(
			text.New("Member: "+data.MemberName, props.Text{Top: 0}),
			text.New(fmt.Sprintf("Group: %d", data.GroupID), props.Text{Top: 5}),
			text.New("Method: "+data.Method, props.Text{Top: 10}),
			text.New("Paid at: "+data.PaidAt.Format("2006-01-02 15:04"), props.Text{Top: 15}),
		),
		code.NewQrCol(4, data.QRPayload, props.Rect{Center: true, Percent: 90}),
	)

	m.AddRow(15,
		text.NewCol(12, fmt.Sprintf("%s %d paid", data.Currency, data.Amount), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   3,
		}),
	)

	m.AddRow(10,
		text.NewCol(8, "Period", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range data.Periods {
		m.AddRow(8,
			text.NewCol(8, line.Period, props.Text{Size: 9}),
			text.NewCol(4, fmt.Sprintf("%d", line.Amount), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(12,
		text.NewCol(12, "Signature: "+data.Signature, props.Text{Size: 7, Top: 4}),
	)

	doc, err := m.Generate()
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", "", err
	}
	filename := data.Number + ".pdf"
	location := filepath.Join(p.dir, filename)
	if err := os.WriteFile(location, doc.GetBytes(), 0o644); err != nil {
		return "", "", err
	}

	p.log.Debug("receipt rendered", zap.String("file", location))
	return location, p.baseURL + "/" + filename, nil
}

var Module = fx.Module("pdf.provider",
	fx.Provide(NewProvider),
)
