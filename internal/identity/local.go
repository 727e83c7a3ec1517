package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/campus/internal/model"
	"github.com/hitoshi/campus/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// ローカルProviderが受け付けるパスワード長。
// 最小はSupabase Authのデフォルト、最大はbcryptの入力上限（バイト数）に合わせる。
const (
	minLocalPasswordLength = 6
	maxLocalPasswordLength = 72
)

// LocalConfig はローカルIdentity Providerの設定。
type LocalConfig struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	BcryptCost      int
}

// Local はPostgreSQLにidentityを保持するIdentity Provider。
// パスワードはbcryptでハッシュ化し、アクセストークンはHS256のJWT、
// リフレッシュトークンは使い捨て（ローテーション）で発行する。
type Local struct {
	identities repository.IdentityRepository
	tokens     repository.RefreshTokenRepository
	signer     *JWTVerifier
	config     LocalConfig
	now        func() time.Time
}

// NewLocal はLocalを生成する。
func NewLocal(
	identities repository.IdentityRepository,
	tokens repository.RefreshTokenRepository,
	signer *JWTVerifier,
	config LocalConfig,
) *Local {
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = time.Hour
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Local{
		identities: identities,
		tokens:     tokens,
		signer:     signer,
		config:     config,
		now:        time.Now,
	}
}

// SignInWithPassword はメールアドレスとパスワードで認証しトークンを発行する。
func (l *Local) SignInWithPassword(ctx context.Context, email, password string) (*model.TokenPair, error) {
	rec, err := l.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if rec == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	identity := rec.Identity
	return l.issue(ctx, &identity)
}

// SignUp はidentityを登録しトークンを発行する。
// ローカルProviderはメール送信を行わないため、メールアドレスは確認済みとして扱う。
func (l *Local) SignUp(ctx context.Context, email, password, fullName string) (*model.TokenPair, error) {
	identity, err := l.CreateUser(ctx, CreateUserParams{
		Email:          email,
		Password:       password,
		FullName:       fullName,
		EmailConfirmed: true,
	})
	if err != nil {
		return nil, err
	}
	return l.issue(ctx, identity)
}

// SignOut はアクセストークンのidentityに紐づく全てのリフレッシュトークンを失効させる。
func (l *Local) SignOut(ctx context.Context, accessToken string) error {
	identity, err := l.signer.Verify(accessToken)
	if err != nil {
		return err
	}
	if err := l.tokens.RevokeByIdentityID(ctx, identity.ID); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}

// Refresh はリフレッシュトークンをローテーションし新しいトークンを発行する。
// 失効済みトークンの再利用を検知した場合は、そのidentityの全トークンを失効させる。
func (l *Local) Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	token, err := l.tokens.FindValidByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	if token == nil {
		return nil, ErrInvalidToken
	}

	revoked, err := l.tokens.Revoke(ctx, token.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if !revoked {
		// 同じトークンで並行にリフレッシュされた
		if err := l.tokens.RevokeByIdentityID(ctx, token.IdentityID); err != nil {
			return nil, fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
		return nil, ErrInvalidToken
	}

	rec, err := l.identities.FindByID(ctx, token.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if rec == nil {
		return nil, ErrInvalidToken
	}

	identity := rec.Identity
	return l.issue(ctx, &identity)
}

// Verify はアクセストークンを検証しidentityを返す。
func (l *Local) Verify(_ context.Context, accessToken string) (*model.Identity, error) {
	return l.signer.Verify(accessToken)
}

// FindUserByEmail はメールアドレスの完全一致でidentityを検索する。
func (l *Local) FindUserByEmail(ctx context.Context, email string) (*model.Identity, error) {
	rec, err := l.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	identity := rec.Identity
	return &identity, nil
}

// CreateUser はidentityを作成する。
func (l *Local) CreateUser(ctx context.Context, params CreateUserParams) (*model.Identity, error) {
	email := strings.TrimSpace(params.Email)
	if email == "" {
		return nil, &ProviderError{Status: http.StatusBadRequest, Code: "validation_failed", Message: "Email is required"}
	}
	if len(params.Password) < minLocalPasswordLength {
		return nil, &ProviderError{
			Status:  http.StatusUnprocessableEntity,
			Code:    "weak_password",
			Message: fmt.Sprintf("Password should be at least %d characters.", minLocalPasswordLength),
		}
	}
	// bcryptは72バイトを超える入力を拒否する
	if len(params.Password) > maxLocalPasswordLength {
		return nil, &ProviderError{
			Status:  http.StatusUnprocessableEntity,
			Code:    "weak_password",
			Message: fmt.Sprintf("Password cannot be longer than %d characters.", maxLocalPasswordLength),
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), l.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	rec := &repository.IdentityRecord{
		Identity: model.Identity{
			ID:             uuid.New().String(),
			Email:          email,
			FullName:       params.FullName,
			EmailConfirmed: params.EmailConfirmed,
			CreatedAt:      l.now(),
		},
		PasswordHash: string(hash),
	}
	if err := l.identities.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	identity := rec.Identity
	return &identity, nil
}

// issue はアクセストークンと新しいリフレッシュトークンを発行する。
func (l *Local) issue(ctx context.Context, identity *model.Identity) (*model.TokenPair, error) {
	now := l.now()
	accessToken, expiresAt, err := l.signer.Issue(identity, l.config.AccessTokenTTL, now)
	if err != nil {
		return nil, err
	}

	raw, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}
	err = l.tokens.Create(ctx, &model.RefreshToken{
		ID:         uuid.New().String(),
		IdentityID: identity.ID,
		TokenHash:  hashRefreshToken(raw),
		ExpiresAt:  now.Add(l.config.RefreshTokenTTL),
		CreatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: raw,
		ExpiresAt:    expiresAt,
		Identity:     identity,
	}, nil
}

// generateRefreshToken は32バイトの乱数からリフレッシュトークンを生成する。
func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashRefreshToken はDBに保存するトークンのハッシュ値を返す。
func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// compile-time interface check
var (
	_ Provider = (*Local)(nil)
	_ Admin    = (*Local)(nil)
)
