package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/campus/internal/model"
)

func TestJWTVerifier_IssueAndVerify(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	identity := &model.Identity{ID: "user-1", Email: "a@x.com", FullName: "Ana"}

	token, expiresAt, err := v.Issue(identity, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("expiresAt = %v, want about 1h from now", expiresAt)
	}

	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != "user-1" || got.Email != "a@x.com" || got.FullName != "Ana" {
		t.Errorf("Verify = %+v", got)
	}
}

func TestJWTVerifier_Expired_ReturnsErrInvalidToken(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	token, _, err := v.Issue(&model.Identity{ID: "user-1"}, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestJWTVerifier_WrongSecret_ReturnsErrInvalidToken(t *testing.T) {
	token, _, err := NewJWTVerifier("secret-a").Issue(&model.Identity{ID: "user-1"}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := NewJWTVerifier("secret-b").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestJWTVerifier_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := NewJWTVerifier("test-secret").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestJWTVerifier_WrongAudience_ReturnsErrInvalidToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"anon"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := NewJWTVerifier("test-secret").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
