package pdf

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

// Provider renders printable documents.
type Provider interface {
	Voucher(ctx context.Context, data VoucherData) ([]byte, error)
}
