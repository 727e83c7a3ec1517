package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const (
	testUserID1 = "6f1c2a3e-0b7d-4c51-9a0e-1d2f3a4b5c61"
	testUserID2 = "6f1c2a3e-0b7d-4c51-9a0e-1d2f3a4b5c62"
	testUserID3 = "6f1c2a3e-0b7d-4c51-9a0e-1d2f3a4b5c63"
	testUserID9 = "6f1c2a3e-0b7d-4c51-9a0e-1d2f3a4b5c69"
	testOtherID = "0a9b8c7d-6e5f-4a3b-8c2d-1e0f9a8b7c6d"
)

func newTestGoTrue(t *testing.T, handler http.HandlerFunc) *GoTrue {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewGoTrue(GoTrueConfig{
		URL:            server.URL + "/",
		AnonKey:        "anon-key",
		ServiceRoleKey: "service-key",
	})
}

func sessionBody(userID, email string) map[string]any {
	return map[string]any{
		"access_token":  "access-1",
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    time.Now().Add(time.Hour).Unix(),
		"refresh_token": "refresh-1",
		"user": map[string]any{
			"id":                 userID,
			"email":              email,
			"email_confirmed_at": "2026-01-01T00:00:00Z",
			"user_metadata":      map[string]any{"full_name": "Ana"},
		},
	}
}

func TestGoTrue_SignInWithPassword_Success(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("apikey = %q, want anon-key", r.Header.Get("apikey"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@x.com" || body["password"] != "longenough1" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionBody(testUserID1, "a@x.com"))
	})

	pair, err := g.SignInWithPassword(context.Background(), "a@x.com", "longenough1")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if pair.AccessToken != "access-1" || pair.RefreshToken != "refresh-1" {
		t.Errorf("tokens = %q/%q", pair.AccessToken, pair.RefreshToken)
	}
	if pair.Identity.ID != testUserID1 || pair.Identity.FullName != "Ana" || !pair.Identity.EmailConfirmed {
		t.Errorf("identity = %+v", pair.Identity)
	}
}

func TestGoTrue_SignInWithPassword_InvalidCredentials(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`))
	})

	_, err := g.SignInWithPassword(context.Background(), "a@x.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestGoTrue_SignInWithPassword_LegacyInvalidGrant(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	})

	_, err := g.SignInWithPassword(context.Background(), "a@x.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestGoTrue_SignUp_PendingConfirmation(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data map[string]string `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Data["full_name"] != "Bruno" {
			t.Errorf("metadata full_name = %q, want Bruno", body.Data["full_name"])
		}
		w.Write([]byte(`{"id":"` + testUserID2 + `","email":"b@x.com","user_metadata":{"full_name":"Bruno"}}`))
	})

	pair, err := g.SignUp(context.Background(), "b@x.com", "longenough1", "Bruno")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if pair.AccessToken != "" {
		t.Errorf("AccessToken = %q, want empty", pair.AccessToken)
	}
	if pair.Identity == nil || pair.Identity.ID != testUserID2 || pair.Identity.EmailConfirmed {
		t.Errorf("identity = %+v", pair.Identity)
	}
}

func TestGoTrue_Refresh_InvalidToken(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid Refresh Token: Refresh Token Not Found"}`))
	})

	_, err := g.Refresh(context.Background(), "stale")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestGoTrue_Verify_CallsUserEndpoint(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"` + testUserID3 + `","email":"c@x.com"}`))
	})

	identity, err := g.Verify(context.Background(), "user-token")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.ID != testUserID3 {
		t.Errorf("ID = %q, want %q", identity.ID, testUserID3)
	}

	if _, err := g.Verify(context.Background(), "bad"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestGoTrue_FindUserByEmail_ExactMatch(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/admin/users" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("apikey") != "service-key" || r.Header.Get("Authorization") != "Bearer service-key" {
			t.Errorf("admin request must use the service role key")
		}
		if r.URL.Query().Get("filter") != "a@x.com" {
			t.Errorf("filter = %q", r.URL.Query().Get("filter"))
		}
		w.Write([]byte(`{"users":[{"id":"` + testOtherID + `","email":"ba@x.com"},{"id":"` + testUserID1 + `","email":"A@x.com"}]}`))
	})

	identity, err := g.FindUserByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if identity == nil || identity.ID != testUserID1 {
		t.Errorf("identity = %+v, want %s", identity, testUserID1)
	}
}

func TestGoTrue_FindUserByEmail_NotFound(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"users":[{"id":"` + testOtherID + `","email":"ba@x.com"}]}`))
	})

	identity, err := g.FindUserByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if identity != nil {
		t.Errorf("identity = %+v, want nil", identity)
	}
}

func TestGoTrue_FindUserByEmail_ReadsNextPage(t *testing.T) {
	var pages []string
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		if r.URL.Query().Get("per_page") != "100" {
			t.Errorf("per_page = %q, want 100", r.URL.Query().Get("per_page"))
		}
		if page == "2" {
			w.Write([]byte(`{"users":[{"id":"` + testUserID1 + `","email":"a@x.com"}]}`))
			return
		}
		// 1ページ目は部分一致する別ユーザーで埋まっている
		users := make([]map[string]string, 0, 100)
		for i := 0; i < 100; i++ {
			users = append(users, map[string]string{
				"id":    fmt.Sprintf("0a9b8c7d-6e5f-4a3b-8c2d-%012d", i),
				"email": fmt.Sprintf("a%d-a@x.com", i),
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"users": users})
	})

	identity, err := g.FindUserByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if identity == nil || identity.ID != testUserID1 {
		t.Errorf("identity = %+v, want %s", identity, testUserID1)
	}
	if len(pages) != 2 || pages[0] != "1" || pages[1] != "2" {
		t.Errorf("pages = %v, want [1 2]", pages)
	}
}

func TestGoTrue_SignOut(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/logout" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer access-1" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := g.SignOut(context.Background(), "access-1"); err != nil {
		t.Errorf("SignOut: %v", err)
	}
}

func TestGoTrue_CanceledContext(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sessionBody(testUserID1, "a@x.com"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.SignInWithPassword(ctx, "a@x.com", "longenough1")
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		t.Errorf("err = %v, want transport error", err)
	}
}

func TestFromAuthError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "JSON本文付き",
			err:        errors.New(`response status code 422: {"code":422,"error_code":"weak_password","msg":"Password is too weak"}`),
			wantStatus: 422,
			wantCode:   "weak_password",
		},
		{
			name:       "本文なし",
			err:        errors.New("response status code 503"),
			wantStatus: 503,
		},
		{
			name: "ステータスなし",
			err:  errors.New("dial tcp 127.0.0.1:1: connect: connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fromAuthError(tt.err)
			var perr *ProviderError
			if tt.wantStatus == 0 {
				if errors.As(err, &perr) {
					t.Fatalf("err = %v, want non-provider error", err)
				}
				if !errors.Is(err, tt.err) {
					t.Errorf("err = %v, want wrapped original", err)
				}
				return
			}
			if !errors.As(err, &perr) {
				t.Fatalf("err = %v, want *ProviderError", err)
			}
			if perr.Status != tt.wantStatus || perr.Code != tt.wantCode {
				t.Errorf("got %d/%q, want %d/%q", perr.Status, perr.Code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestGoTrue_CreateUser_Success(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["email_confirm"] != true {
			t.Errorf("email_confirm = %v, want true", body["email_confirm"])
		}
		w.Write([]byte(`{"id":"` + testUserID9 + `","email":"a@x.com","email_confirmed_at":"2026-01-01T00:00:00Z"}`))
	})

	identity, err := g.CreateUser(context.Background(), CreateUserParams{
		Email: "a@x.com", Password: "longenough1", FullName: "Super Admin", EmailConfirmed: true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if identity.ID != testUserID9 || !identity.EmailConfirmed {
		t.Errorf("identity = %+v", identity)
	}
}

func TestGoTrue_CreateUser_AlreadyExists(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"code":422,"error_code":"email_exists","msg":"A user with this email address has already been registered"}`))
	})

	_, err := g.CreateUser(context.Background(), CreateUserParams{Email: "a@x.com", Password: "longenough1"})
	if !errors.Is(err, ErrUserAlreadyExists) {
		t.Errorf("err = %v, want ErrUserAlreadyExists", err)
	}
}

func TestGoTrue_CreateUser_ProviderMessagePassesThrough(t *testing.T) {
	g := newTestGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":400,"error_code":"validation_failed","msg":"Unable to validate email address: invalid format"}`))
	})

	_, err := g.CreateUser(context.Background(), CreateUserParams{Email: "bad", Password: "longenough1"})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if perr.Message != "Unable to validate email address: invalid format" {
		t.Errorf("Message = %q", perr.Message)
	}
}
