package superadmin

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hitoshi/campus/internal/identity"
	"github.com/hitoshi/campus/internal/model"
	"github.com/hitoshi/campus/internal/repository"
	"github.com/hitoshi/campus/internal/security"
)

// memoryProfileStore はprofilesテーブルと同じ制約を持つインメモリのストア。
type memoryProfileStore struct {
	mu       sync.Mutex
	byUserID map[string]*model.Profile
	upserts  int

	countFn  func(ctx context.Context, role model.Role) (int, error)
	upsertFn func(ctx context.Context, profile *model.Profile) error
}

func newMemoryProfileStore() *memoryProfileStore {
	return &memoryProfileStore{byUserID: make(map[string]*model.Profile)}
}

func (m *memoryProfileStore) CountActiveByRole(ctx context.Context, role model.Role) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.byUserID {
		if p.Role == role && p.IsActive {
			n++
		}
	}
	return n, nil
}

func (m *memoryProfileStore) UpsertByUserID(ctx context.Context, profile *model.Profile) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, profile)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++

	if profile.Role == model.RoleSuperadmin && profile.IsActive {
		for userID, p := range m.byUserID {
			if userID != profile.UserID && p.Role == model.RoleSuperadmin && p.IsActive {
				return repository.ErrSuperadminTaken
			}
		}
	}
	if existing, ok := m.byUserID[profile.UserID]; ok {
		profile.ID = existing.ID
	} else if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	copied := *profile
	m.byUserID[profile.UserID] = &copied
	return nil
}

func (m *memoryProfileStore) rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byUserID)
}

// memoryAdmin はメールアドレスでidentityを保持するインメモリのAdmin。
type memoryAdmin struct {
	mu      sync.Mutex
	byEmail map[string]*model.Identity
	creates int

	findFn   func(ctx context.Context, email string) (*model.Identity, error)
	createFn func(ctx context.Context, params identity.CreateUserParams) (*model.Identity, error)
}

func newMemoryAdmin() *memoryAdmin {
	return &memoryAdmin{byEmail: make(map[string]*model.Identity)}
}

func (m *memoryAdmin) FindUserByEmail(ctx context.Context, email string) (*model.Identity, error) {
	if m.findFn != nil {
		return m.findFn(ctx, email)
	}
	return m.lookup(email), nil
}

func (m *memoryAdmin) lookup(email string) *model.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byEmail[strings.ToLower(email)]
}

func (m *memoryAdmin) CreateUser(ctx context.Context, params identity.CreateUserParams) (*model.Identity, error) {
	if m.createFn != nil {
		return m.createFn(ctx, params)
	}
	return m.create(params)
}

func (m *memoryAdmin) create(params identity.CreateUserParams) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	key := strings.ToLower(params.Email)
	if _, ok := m.byEmail[key]; ok {
		return nil, identity.ErrUserAlreadyExists
	}
	ident := &model.Identity{
		ID:             uuid.New().String(),
		Email:          params.Email,
		FullName:       params.FullName,
		EmailConfirmed: params.EmailConfirmed,
	}
	m.byEmail[key] = ident
	return ident, nil
}

type recordingObserver struct {
	mu        sync.Mutex
	bootstrap []string
	status    []string
}

func (r *recordingObserver) ObserveBootstrap(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bootstrap = append(r.bootstrap, outcome)
}

func (r *recordingObserver) ObserveStatusCheck(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, outcome)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestBootstrap(store *memoryProfileStore, admin *memoryAdmin, observer Observer) *BootstrapService {
	return NewBootstrapService(store, admin, security.NewNameSanitizer(), discardLogger(), observer)
}
