package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/accounts-svc/apiserver/config"
	"github.com/accounts-svc/apiserver/internal/auth"
	"github.com/accounts-svc/apiserver/internal/store"
	"github.com/accounts-svc/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type fakeUsers struct {
	mu     sync.Mutex
	nextID int
	users  map[int]types.User

	// recoveries, when set, loses a user's recovery on delete like the
	// foreign key cascade does.
	recoveries *fakeRecoveries

	getErr    error
	createErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[int]types.User)}
}

func (f *fakeUsers) GetByID(_ context.Context, id int) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return types.User{}, f.getErr
	}
	user, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return types.User{}, f.getErr
	}
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUsers) Create(_ context.Context, user types.User) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return types.User{}, f.createErr
	}
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	f.nextID++
	user.ID = f.nextID
	if user.Preferences == nil {
		user.Preferences = []string{}
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUsers) Update(_ context.Context, id int, patch types.UserPatch) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if email, set := patch.Email.Get(); set {
		for otherID, other := range f.users {
			if otherID != id && other.Email == email {
				return types.User{}, store.ErrConflict
			}
		}
	}
	patch.Apply(&user)
	user.UpdatedAt = time.Now()
	f.users[id] = user
	return user, nil
}

func (f *fakeUsers) Delete(_ context.Context, id int) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	delete(f.users, id)
	if f.recoveries != nil {
		f.recoveries.drop(id)
	}
	return user, nil
}

func (f *fakeUsers) setPasswordHash(id int, hash string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return false
	}
	user.PasswordHash = hash
	f.users[id] = user
	return true
}

type fakeRecoveries struct {
	mu      sync.Mutex
	records map[int]types.PasswordRecovery
	users   *fakeUsers

	// beforeRedeem runs at the start of Redeem, before any lock is taken.
	beforeRedeem func()
}

func newFakeRecoveries(users *fakeUsers) *fakeRecoveries {
	r := &fakeRecoveries{records: make(map[int]types.PasswordRecovery), users: users}
	users.recoveries = r
	return r
}

func (f *fakeRecoveries) Get(_ context.Context, userID int) (types.PasswordRecovery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID]
	if !ok {
		return types.PasswordRecovery{}, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRecoveries) Create(ctx context.Context, rec types.PasswordRecovery, dispatch func(context.Context) error) (types.PasswordRecovery, error) {
	return f.save(ctx, rec, false, dispatch)
}

func (f *fakeRecoveries) Replace(ctx context.Context, rec types.PasswordRecovery, dispatch func(context.Context) error) (types.PasswordRecovery, error) {
	return f.save(ctx, rec, true, dispatch)
}

func (f *fakeRecoveries) save(ctx context.Context, rec types.PasswordRecovery, replace bool, dispatch func(context.Context) error) (types.PasswordRecovery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.records[rec.UserID]; exists && !replace {
		return types.PasswordRecovery{}, store.ErrConflict
	}
	if err := dispatch(ctx); err != nil {
		return types.PasswordRecovery{}, err
	}
	f.records[rec.UserID] = rec
	return rec, nil
}

func (f *fakeRecoveries) DecrementAttempts(_ context.Context, userID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID]
	if !ok || rec.AttemptsLeft == 0 {
		return 0, store.ErrNotFound
	}
	rec.AttemptsLeft--
	f.records[userID] = rec
	return rec.AttemptsLeft, nil
}

func (f *fakeRecoveries) Delete(_ context.Context, userID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[userID]; !ok {
		return store.ErrNotFound
	}
	delete(f.records, userID)
	return nil
}

func (f *fakeRecoveries) Redeem(_ context.Context, userID int, code, passwordHash string) error {
	if f.beforeRedeem != nil {
		f.beforeRedeem()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID]
	if !ok || rec.Code != code {
		return store.ErrNotFound
	}
	if !f.users.setPasswordHash(userID, passwordHash) {
		return store.ErrNotFound
	}
	delete(f.records, userID)
	return nil
}

func (f *fakeRecoveries) drop(userID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, userID)
}

func (f *fakeRecoveries) has(userID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[userID]
	return ok
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	removed   []string
	uploadErr error
	removeErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) Upload(_ context.Context, folder, _ string, data []byte, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.objects[folder+"/"+key] = data
	return "https://files.example.com/" + folder + "/" + key, nil
}

func (f *fakeStorage) Remove(_ context.Context, folder, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, folder+"/"+key)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.objects, folder+"/"+key)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []RecommendationEvent
}

func (f *fakeNotifier) Notify(userID int, city string, preferences []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, RecommendationEvent{UserID: userID, City: city, Preferences: preferences})
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// env wires every service over the same in-memory state.
type env struct {
	users      *fakeUsers
	recoveries *fakeRecoveries
	mailer     *fakeMailer
	storage    *fakeStorage
	notifier   *fakeNotifier
	hasher     *auth.PasswordHasher
	tokens     *auth.TokenIssuer

	sessions *SessionService
	recovery *RecoveryService
	profiles *ProfileService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithPolicy(t, config.RecoveryPolicyReplace)
}

func newEnvWithPolicy(t *testing.T, policy string) *env {
	t.Helper()
	tokens, err := auth.NewTokenIssuer(config.JWTConfig{
		Secret:         testSecret,
		Algorithm:      "HS256",
		AccessTokenTTL: 30 * time.Minute,
	})
	require.NoError(t, err)

	e := &env{
		users:    newFakeUsers(),
		mailer:   &fakeMailer{},
		storage:  newFakeStorage(),
		notifier: &fakeNotifier{},
		hasher:   auth.NewPasswordHasher(bcrypt.MinCost),
		tokens:   tokens,
	}
	e.recoveries = newFakeRecoveries(e.users)

	logger := discardLogger()
	e.sessions = NewSessionService(e.users, e.hasher, e.tokens, logger)
	e.recovery = NewRecoveryService(e.users, e.recoveries, e.hasher, e.mailer, config.RecoveryConfig{
		CodeTTL:  30 * time.Minute,
		Attempts: 3,
		Policy:   policy,
	}, logger)
	e.profiles = NewProfileService(e.users, e.hasher, e.storage, e.notifier, logger)
	return e
}

func (e *env) signup(t *testing.T, email, password string) types.User {
	t.Helper()
	user, err := e.profiles.Signup(context.Background(), SignupRequest{
		Username: "user",
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return user
}
