// Package codegen produces activation and referral codes.
package codegen

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"

	"github.com/smallbiznis/vervex/internal/role"
	"github.com/smallbiznis/vervex/pkg/errs"
	"go.uber.org/fx"
)

var Module = fx.Module("codegen",
	fx.Provide(func() *Generator { return New(rand.Reader) }),
)

// alphabet omits 0/O and 1/I/L so codes survive being read aloud.
const alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	groupSize   = 4
	groups      = 2
	maxAttempts = 8
)

var (
	ErrInvalidCode = errs.New(errs.KindInvalidArgument, "invalid_code")
	ErrExhausted   = errs.New(errs.KindInternal, "code_generation_exhausted")

	codePattern = regexp.MustCompile(`^[A-Z0-9-]{4,32}$`)
)

// ExistsFunc reports whether code is already issued.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

type Generator struct {
	random io.Reader
}

func New(random io.Reader) *Generator {
	return &Generator{random: random}
}

// Generate returns a code such as VX-VIP-7KQ2-M9PX. Each call draws fresh
// randomness and does not depend on earlier codes.
func (g *Generator) Generate(r role.Role) (string, error) {
	if !r.Valid() {
		return "", role.ErrInvalidRole
	}

	parts := []string{"VX", prefix(r)}
	for i := 0; i < groups; i++ {
		chunk, err := g.random4()
		if err != nil {
			return "", err
		}
		parts = append(parts, chunk)
	}
	return strings.Join(parts, "-"), nil
}

// Unique generates codes until exists reports one as free.
func (g *Generator) Unique(ctx context.Context, r role.Role, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := g.Generate(r)
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// ReferralCode returns a member share code such as R-4KX9T2MB.
func (g *Generator) ReferralCode() (string, error) {
	var b strings.Builder
	b.WriteString("R-")
	for i := 0; i < 2; i++ {
		chunk, err := g.random4()
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// Normalize trims and upper-cases a code typed by a person and checks its
// shape.
func Normalize(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		return "", ErrInvalidCode
	}
	return code, nil
}

func (g *Generator) random4() (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, groupSize)
	for i := range buf {
		n, err := rand.Int(g.random, size)
		if err != nil {
			return "", fmt.Errorf("codegen: read random: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

func prefix(r role.Role) string {
	switch r {
	case role.Ambassador:
		return "AMB"
	case role.Supreme:
		return "SUP"
	case role.Superadmin:
		return "SAD"
	default:
		name := strings.ToUpper(string(r))
		if len(name) > 3 {
			name = name[:3]
		}
		return name
	}
}
