package pdf

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// VoucherData is what gets printed on an activation code voucher.
type VoucherData struct {
	Code        string
	Role        string
	Price       int64
	InviterName string
	InviteeName string
	IssuedAt    time.Time
	RedeemURL   string
}

var ErrMissingCode = errors.New("pdf: voucher requires a code")

type MarotoProvider struct{}

func New() Provider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) Voucher(ctx context.Context, data VoucherData) ([]byte, error) {
	if strings.TrimSpace(data.Code) == "" {
		return nil, ErrMissingCode
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(25,
		text.NewCol(8, "Vervex Activation Voucher", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, strings.ToUpper(data.Role), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(45,
		col.New(8).Add(
			text.New("Activation code", props.Text{Size: 10}),
			text.New(data.Code, props.Text{Size: 24, Style: fontstyle.Bold, Top: 6}),
			text.New("Price paid: "+FormatMoney(data.Price), props.Text{Size: 10, Top: 22}),
			text.New("Issued: "+data.IssuedAt.UTC().Format("02 Jan 2006"), props.Text{Size: 10, Top: 28}),
		),
		code.NewQrCol(4, redeemTarget(data), props.Rect{Center: true, Percent: 90}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("For", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(data.InviteeName, props.Text{Size: 9, Top: 5}),
		),
		col.New(6).Add(
			text.New("Invited by", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(data.InviterName, props.Text{Size: 9, Top: 5}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, "This code can be redeemed once. Keep it private until registration.", props.Text{
			Size: 8,
			Top:  5,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func redeemTarget(data VoucherData) string {
	if data.RedeemURL == "" {
		return data.Code
	}
	return data.RedeemURL
}

// FormatMoney renders an amount with thousands separators.
func FormatMoney(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}
