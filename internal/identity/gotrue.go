package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	auth "github.com/supabase-community/auth-go"
	"github.com/supabase-community/auth-go/types"

	"github.com/hitoshi/campus/internal/model"
)

// ユーザー一覧のページングの設定。
// filterは部分一致のため、完全一致を見つけるまでページを進める。
const (
	adminUsersPerPage  = 100
	adminUsersMaxPages = 20
)

// GoTrueConfig はSupabase Auth（GoTrue）クライアントの設定。
type GoTrueConfig struct {
	// プロジェクトURL（例: https://xxxx.supabase.co）
	URL            string
	AnonKey        string
	ServiceRoleKey string

	// Verifier が設定されている場合、アクセストークンをローカルで検証する
	Verifier *JWTVerifier

	// テスト用にオーバーライド可能なHTTPクライアント
	HTTPClient *http.Client
}

// GoTrue はSupabase Authを使用したIdentity Provider。
// 認証操作と管理APIでのユーザー作成はauth-goで行い、
// auth-goが対応していないfilter付きのユーザー検索のみREST APIを直接呼ぶ。
type GoTrue struct {
	config GoTrueConfig
	client *http.Client
	anon   auth.Client
	admin  auth.Client
}

// NewGoTrue はGoTrueを生成する。
func NewGoTrue(config GoTrueConfig) *GoTrue {
	config.URL = strings.TrimRight(config.URL, "/")
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	authURL := config.URL + "/auth/v1"
	return &GoTrue{
		config: config,
		client: client,
		anon:   auth.New("", config.AnonKey).WithCustomAuthURL(authURL),
		admin: auth.New("", config.ServiceRoleKey).
			WithCustomAuthURL(authURL).
			WithToken(config.ServiceRoleKey),
	}
}

// contextTransport はauth-goのリクエストにctxを引き継ぐ。
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// withContext はctxのキャンセルが効くHTTPクライアントを設定したauth-goクライアントを返す。
func (g *GoTrue) withContext(ctx context.Context, c auth.Client) auth.Client {
	base := g.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return c.WithClient(http.Client{
		Timeout:   g.client.Timeout,
		Transport: contextTransport{ctx: ctx, base: base},
	})
}

// gotrueError はGoTrueのエラーレスポンス。バージョンにより形式が異なる。
type gotrueError struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// SignInWithPassword はメールアドレスとパスワードで認証しトークンを発行する。
func (g *GoTrue) SignInWithPassword(ctx context.Context, email, password string) (*model.TokenPair, error) {
	resp, err := g.withContext(ctx, g.anon).SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, fromAuthError(err)
	}
	return sessionToTokenPair(&resp.Session)
}

// SignUp はidentityを登録する。fullNameはuser_metadataに保存される。
func (g *GoTrue) SignUp(ctx context.Context, email, password, fullName string) (*model.TokenPair, error) {
	resp, err := g.withContext(ctx, g.anon).Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"full_name": fullName},
	})
	if err != nil {
		return nil, fromAuthError(err)
	}
	if resp.Session.AccessToken == "" {
		// メール確認待ち: トークンは発行されない
		if resp.User.ID == uuid.Nil {
			return nil, fmt.Errorf("empty user in signup response")
		}
		return &model.TokenPair{Identity: userToIdentity(&resp.User)}, nil
	}
	return sessionToTokenPair(&resp.Session)
}

// SignOut はアクセストークンに紐づくセッションを無効化する。
func (g *GoTrue) SignOut(ctx context.Context, accessToken string) error {
	if err := g.withContext(ctx, g.anon.WithToken(accessToken)).Logout(); err != nil {
		return fromAuthError(err)
	}
	return nil
}

// Refresh はリフレッシュトークンで新しいトークンを発行する。
func (g *GoTrue) Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	resp, err := g.withContext(ctx, g.anon).RefreshToken(refreshToken)
	if err != nil {
		err = fromAuthError(err)
		var perr *ProviderError
		if errors.As(err, &perr) && perr.Status == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s", ErrInvalidToken, perr.Message)
		}
		return nil, err
	}
	return sessionToTokenPair(&resp.Session)
}

// Verify はアクセストークンを検証しidentityを返す。
// Verifierが設定されていればローカルで検証し、なければ/userエンドポイントに問い合わせる。
func (g *GoTrue) Verify(ctx context.Context, accessToken string) (*model.Identity, error) {
	if g.config.Verifier != nil {
		return g.config.Verifier.Verify(accessToken)
	}

	resp, err := g.withContext(ctx, g.anon.WithToken(accessToken)).GetUser()
	if err != nil {
		err = fromAuthError(err)
		var perr *ProviderError
		if errors.As(err, &perr) && (perr.Status == http.StatusUnauthorized || perr.Status == http.StatusForbidden) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return userToIdentity(&resp.User), nil
}

// adminUserList は管理APIのユーザー一覧レスポンス。
type adminUserList struct {
	Users []types.User `json:"users"`
}

// FindUserByEmail はメールアドレスの完全一致でidentityを検索する。
// filterパラメータ（部分一致）で候補を絞り込み、大文字小文字を区別せず完全一致するものを返す。
// 候補がページに収まらない場合は次のページを読む。
func (g *GoTrue) FindUserByEmail(ctx context.Context, email string) (*model.Identity, error) {
	for page := 1; page <= adminUsersMaxPages; page++ {
		users, err := g.listUsers(ctx, email, page)
		if err != nil {
			return nil, err
		}
		for i := range users {
			if strings.EqualFold(users[i].Email, email) {
				return userToIdentity(&users[i]), nil
			}
		}
		if len(users) < adminUsersPerPage {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("too many users match %q", email)
}

// listUsers はGET /admin/users?filter=...の1ページを取得する。
// auth-goのAdminListUsersはfilterとページ指定を受け付けないため直接呼ぶ。
func (g *GoTrue) listUsers(ctx context.Context, filter string, page int) ([]types.User, error) {
	query := url.Values{
		"filter":   {filter},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(adminUsersPerPage)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.config.URL+"/auth/v1/admin/users?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", g.config.ServiceRoleKey)
	req.Header.Set("Authorization", "Bearer "+g.config.ServiceRoleKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read identity provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseGoTrueError(resp.StatusCode, body)
	}

	var list adminUserList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse identity provider response: %w", err)
	}
	return list.Users, nil
}

// CreateUser はサービスロールでidentityを作成する。
func (g *GoTrue) CreateUser(ctx context.Context, params CreateUserParams) (*model.Identity, error) {
	password := params.Password
	resp, err := g.withContext(ctx, g.admin).AdminCreateUser(types.AdminCreateUserRequest{
		Email:        params.Email,
		Password:     &password,
		EmailConfirm: params.EmailConfirmed,
		UserMetadata: map[string]interface{}{"full_name": params.FullName},
	})
	if err != nil {
		err = fromAuthError(err)
		var perr *ProviderError
		if errors.As(err, &perr) && perr.alreadyExists() {
			return nil, fmt.Errorf("%w: %s", ErrUserAlreadyExists, perr.Message)
		}
		return nil, err
	}
	if resp.User.ID == uuid.Nil {
		return nil, fmt.Errorf("empty user in create response")
	}
	return userToIdentity(&resp.User), nil
}

// authStatusPattern はauth-goが2xx以外のレスポンスで返すエラー文言
// （"response status code 400: {...}"）からステータスと本文を取り出す。
var authStatusPattern = regexp.MustCompile(`(?s)status code (\d{3})(?::\s*(.*))?`)

// fromAuthError はauth-goのエラーをProviderErrorに変換する。
// ステータスを含まないエラー（通信失敗など）はラップして返す。
func fromAuthError(err error) error {
	m := authStatusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return fmt.Errorf("identity provider request failed: %w", err)
	}
	status, _ := strconv.Atoi(m[1])
	return parseGoTrueError(status, []byte(m[2]))
}

// parseGoTrueError はエラーレスポンスをProviderErrorに変換する。
// パスワード認証の失敗はErrInvalidCredentialsとして返す。
func parseGoTrueError(status int, body []byte) error {
	var ge gotrueError
	_ = json.Unmarshal(body, &ge)

	perr := &ProviderError{Status: status, Code: ge.ErrorCode}
	if perr.Code == "" {
		perr.Code = ge.Error
	}
	switch {
	case ge.Msg != "":
		perr.Message = ge.Msg
	case ge.ErrorDescription != "":
		perr.Message = ge.ErrorDescription
	case ge.Message != "":
		perr.Message = ge.Message
	case ge.Error != "":
		perr.Message = ge.Error
	default:
		perr.Message = fmt.Sprintf("identity provider returned status %d", status)
	}

	if perr.Code == "invalid_credentials" ||
		(perr.Code == "invalid_grant" && strings.Contains(strings.ToLower(perr.Message), "credentials")) {
		return ErrInvalidCredentials
	}
	return perr
}

// alreadyExists はメールアドレス重複によるエラーかどうかを判定する。
func (e *ProviderError) alreadyExists() bool {
	switch e.Code {
	case "email_exists", "user_already_exists":
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "already been registered") || strings.Contains(msg, "already registered")
}

func sessionToTokenPair(s *types.Session) (*model.TokenPair, error) {
	if s.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	if s.User.ID == uuid.Nil {
		return nil, fmt.Errorf("empty user in token response")
	}

	expiresAt := time.Unix(s.ExpiresAt, 0)
	if s.ExpiresAt == 0 {
		expiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return &model.TokenPair{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    expiresAt,
		Identity:     userToIdentity(&s.User),
	}, nil
}

func userToIdentity(u *types.User) *model.Identity {
	identity := &model.Identity{
		ID:             u.ID.String(),
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil,
		CreatedAt:      u.CreatedAt,
	}
	if name, ok := u.UserMetadata["full_name"].(string); ok {
		identity.FullName = name
	}
	return identity
}

// compile-time interface check
var (
	_ Provider = (*GoTrue)(nil)
	_ Admin    = (*GoTrue)(nil)
)
