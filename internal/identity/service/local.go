package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/smallbiznis/vervex/internal/clock"
	"github.com/smallbiznis/vervex/internal/config"
	"github.com/smallbiznis/vervex/internal/identity/domain"
	"github.com/smallbiznis/vervex/internal/identity/password"
	dbutil "github.com/smallbiznis/vervex/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	verificationTTL      = 72 * time.Hour
	verificationTokenLen = 32
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock
}

// Local stores identities in the application database and signs HS256
// bearer tokens.
type Local struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	secret  []byte
	issuer  string
	ttl     time.Duration
	baseURL string
}

func NewLocal(p Params) (domain.Provider, error) {
	log := p.Log.Named("identity.local")

	secret := []byte(p.Cfg.AuthJWTSecret)
	if len(secret) == 0 {
		if p.Cfg.IsProduction() {
			return nil, errors.New("identity: AUTH_JWT_SECRET is required in production")
		}
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		log.Warn("AUTH_JWT_SECRET not set, using an ephemeral signing key")
	}

	ttl := p.Cfg.AuthTokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Local{
		db:      p.DB,
		log:     log,
		genID:   p.GenID,
		clock:   p.Clock,
		secret:  secret,
		issuer:  p.Cfg.AppName,
		ttl:     ttl,
		baseURL: strings.TrimRight(p.Cfg.PublicBaseURL, "/"),
	}, nil
}

func (l *Local) CreateIdentity(ctx context.Context, email, plain string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", domain.ErrInvalidEmail
	}
	if len(plain) < password.MinLength {
		return "", domain.ErrWeakPassword
	}

	hash, err := password.Hash(plain)
	if err != nil {
		return "", err
	}

	now := l.clock.Now()
	identity := domain.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.db.WithContext(ctx).Create(&identity).Error; err != nil {
		if dbutil.IsDuplicateKeyErr(err) {
			return "", domain.ErrEmailExists
		}
		return "", fmt.Errorf("identity: create: %w", err)
	}
	return identity.ID, nil
}

func (l *Local) LookupByEmail(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", domain.ErrInvalidEmail
	}
	identity, err := l.find(ctx, "email = ?", email)
	if err != nil || identity == nil {
		return "", err
	}
	return identity.ID, nil
}

func (l *Local) SetPassword(ctx context.Context, id, plain string) error {
	if len(plain) < password.MinLength {
		return domain.ErrWeakPassword
	}
	hash, err := password.Hash(plain)
	if err != nil {
		return err
	}
	res := l.db.WithContext(ctx).Exec(
		`UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, l.clock.Now(), id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (l *Local) VerifyIdentityToken(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return l.secret, nil
	},
		jwt.WithIssuer(l.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(l.clock.Now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", domain.ErrInvalidToken
	}

	identity, err := l.find(ctx, "id = ?", claims.Subject)
	if err != nil {
		return "", err
	}
	if identity == nil {
		return "", domain.ErrInvalidToken
	}
	return identity.ID, nil
}

func (l *Local) IssueToken(ctx context.Context, id string) (domain.Token, error) {
	identity, err := l.find(ctx, "id = ?", id)
	if err != nil {
		return domain.Token{}, err
	}
	if identity == nil {
		return domain.Token{}, domain.ErrNotFound
	}

	now := l.clock.Now()
	expiresAt := now.Add(l.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    l.issuer,
		Subject:   identity.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.secret)
	if err != nil {
		return domain.Token{}, fmt.Errorf("identity: sign token: %w", err)
	}
	return domain.Token{Value: signed, ExpiresAt: expiresAt}, nil
}

func (l *Local) Authenticate(ctx context.Context, email, plain string) (domain.Token, error) {
	email = normalizeEmail(email)
	if email == "" || plain == "" {
		return domain.Token{}, domain.ErrInvalidCredentials
	}
	identity, err := l.find(ctx, "email = ?", email)
	if err != nil {
		return domain.Token{}, err
	}
	if identity == nil || !password.Verify(plain, identity.PasswordHash) {
		return domain.Token{}, domain.ErrInvalidCredentials
	}
	return l.IssueToken(ctx, identity.ID)
}

func (l *Local) DeleteIdentity(ctx context.Context, id string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM verification_tokens WHERE identity_id = ?`, id).Error; err != nil {
			return err
		}
		res := tx.Exec(`DELETE FROM identities WHERE id = ?`, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (l *Local) IssueVerificationLink(ctx context.Context, id string) (string, error) {
	identity, err := l.find(ctx, "id = ?", id)
	if err != nil {
		return "", err
	}
	if identity == nil {
		return "", domain.ErrNotFound
	}

	raw, err := newVerificationToken()
	if err != nil {
		return "", err
	}
	now := l.clock.Now()
	record := domain.VerificationToken{
		ID:         l.genID.Generate(),
		IdentityID: identity.ID,
		TokenHash:  hashToken(raw),
		ExpiresAt:  now.Add(verificationTTL),
		CreatedAt:  now,
	}
	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("identity: store verification token: %w", err)
	}

	return l.baseURL + "/api/auth/verify?token=" + url.QueryEscape(raw), nil
}

func (l *Local) ConfirmVerification(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.ErrInvalidVerifyToken
	}

	var identityID string
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record domain.VerificationToken
		if err := tx.Where("token_hash = ?", hashToken(raw)).Limit(1).Find(&record).Error; err != nil {
			return err
		}
		now := l.clock.Now()
		if record.ID == 0 || record.ConsumedAt != nil || !now.Before(record.ExpiresAt) {
			return domain.ErrInvalidVerifyToken
		}

		res := tx.Exec(
			`UPDATE verification_tokens SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
			now, record.ID,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrInvalidVerifyToken
		}
		if err := tx.Exec(
			`UPDATE identities SET email_verified_at = ?, updated_at = ? WHERE id = ? AND email_verified_at IS NULL`,
			now, now, record.IdentityID,
		).Error; err != nil {
			return err
		}
		identityID = record.IdentityID
		return nil
	})
	if err != nil {
		return "", err
	}
	return identityID, nil
}

func (l *Local) find(ctx context.Context, query string, arg any) (*domain.Identity, error) {
	var identity domain.Identity
	if err := l.db.WithContext(ctx).Where(query, arg).Limit(1).Find(&identity).Error; err != nil {
		return nil, err
	}
	if identity.ID == "" {
		return nil, nil
	}
	return &identity, nil
}

func normalizeEmail(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if at := strings.LastIndex(value, "@"); at <= 0 || at == len(value)-1 {
		return ""
	}
	return value
}

func newVerificationToken() (string, error) {
	buf := make([]byte, verificationTokenLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
