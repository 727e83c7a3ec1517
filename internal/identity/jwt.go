package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/campus/internal/model"
)

// accessTokenAudience はSupabase Authが発行するアクセストークンのaud。
const accessTokenAudience = "authenticated"

// Claims はアクセストークンのクレーム。Supabase Authと同じ形式を使う。
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// JWTVerifier はHS256で署名されたアクセストークンの発行と検証を行う。
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier はJWTVerifierを生成する。
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Issue はidentityのアクセストークンを発行し、有効期限とともに返す。
func (v *JWTVerifier) Issue(identity *model.Identity, ttl time.Duration, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Audience:  jwt.ClaimStrings{accessTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: identity.Email,
		Role:  accessTokenAudience,
	}
	if identity.FullName != "" {
		claims.UserMetadata = map[string]any{"full_name": identity.FullName}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はアクセストークンの署名・有効期限・audを検証しidentityを返す。
// 検証に失敗した場合はErrInvalidTokenをラップして返す。
func (v *JWTVerifier) Verify(tokenString string) (*model.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(accessTokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	identity := &model.Identity{
		ID:    claims.Subject,
		Email: claims.Email,
	}
	if name, ok := claims.UserMetadata["full_name"].(string); ok {
		identity.FullName = name
	}
	return identity, nil
}
