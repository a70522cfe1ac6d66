package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/accounts-svc/apiserver/internal/store"
	"github.com/accounts-svc/apiserver/types"
)

const avatarFolder = "avatars"

// SignupRequest carries the fields of a new account.
type SignupRequest struct {
	Username    string
	Email       string
	Password    string
	BirthDate   *types.Date
	City        string
	Preferences []string
	PushToken   string
}

// ProfileService encapsulates account and profile use-cases.
type ProfileService struct {
	users    UserRepository
	hasher   PasswordHasher
	storage  ObjectStorage
	notifier Notifier
	logger   *slog.Logger
}

func NewProfileService(users UserRepository, hasher PasswordHasher, storage ObjectStorage, notifier Notifier, logger *slog.Logger) *ProfileService {
	return &ProfileService{
		users:    users,
		hasher:   hasher,
		storage:  storage,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *ProfileService) Signup(ctx context.Context, req SignupRequest) (types.User, error) {
	req.Email = normalizeEmail(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if err := validateEmail(req.Email); err != nil {
		return types.User{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return types.User{}, err
	}

	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return types.User{}, emailTaken(req.Email)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, dbError(err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return types.User{}, unknownError("Could not hash password", err)
	}

	user := types.User{
		Username:     req.Username,
		Email:        req.Email,
		BirthDate:    req.BirthDate,
		City:         req.City,
		Preferences:  req.Preferences,
		PasswordHash: hash,
	}
	if req.PushToken != "" {
		user.PushToken = &req.PushToken
	}

	user, err = s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, emailTaken(req.Email)
		}
		return types.User{}, dbError(err)
	}

	if user.City != "" || len(user.Preferences) > 0 {
		s.notifier.Notify(user.ID, user.City, user.Preferences)
	}
	s.logger.InfoContext(ctx, "user created", "user_id", user.ID)
	return user, nil
}

func (s *ProfileService) Get(ctx context.Context, id int) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return types.User{}, userLookupError(err)
	}
	return user, nil
}

func (s *ProfileService) Preferences(ctx context.Context, id int) ([]string, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Preferences == nil {
		return []string{}, nil
	}
	return user.Preferences, nil
}

// PushToken returns the user's push token, or "" when none was registered.
func (s *ProfileService) PushToken(ctx context.Context, id int) (string, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if user.PushToken == nil {
		return "", nil
	}
	return *user.PushToken, nil
}

// Update applies patch to the user. Changing city or preferences notifies
// the recommendation service without waiting for it.
func (s *ProfileService) Update(ctx context.Context, userID int, patch types.UserPatch) (types.User, error) {
	if patch.IsEmpty() {
		return s.Get(ctx, userID)
	}
	if email, ok := patch.Email.Get(); ok {
		email = normalizeEmail(email)
		if err := validateEmail(email); err != nil {
			return types.User{}, err
		}
		patch.Email = types.Set(email)
	}

	user, err := s.update(ctx, userID, patch)
	if err != nil {
		return types.User{}, err
	}

	if patch.TouchesRecommendations() {
		s.notifier.Notify(user.ID, user.City, user.Preferences)
	}
	s.logger.InfoContext(ctx, "user updated", "user_id", user.ID)
	return user, nil
}

// Delete removes the account and returns its last state. The avatar is
// removed afterwards on a best-effort basis.
func (s *ProfileService) Delete(ctx context.Context, userID int) (types.User, error) {
	user, err := s.users.Delete(ctx, userID)
	if err != nil {
		return types.User{}, userLookupError(err)
	}

	if user.AvatarURL != nil {
		if err := s.storage.Remove(ctx, avatarFolder, strconv.Itoa(user.ID)); err != nil {
			s.logger.WarnContext(ctx, "avatar removal failed", "user_id", user.ID, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "user deleted", "user_id", user.ID)
	return user, nil
}

// UploadAvatar stores the image as avatars/<user id> and links it on the
// profile.
func (s *ProfileService) UploadAvatar(ctx context.Context, userID int, contentType string, data []byte) (types.User, error) {
	if len(data) == 0 {
		return types.User{}, newError(KindInvalidInput, "Avatar file is empty")
	}
	if _, err := s.Get(ctx, userID); err != nil {
		return types.User{}, err
	}

	url, err := s.storage.Upload(ctx, avatarFolder, contentType, data, strconv.Itoa(userID))
	if err != nil {
		return types.User{}, unknownError("Could not upload avatar", err)
	}
	return s.update(ctx, userID, types.UserPatch{AvatarURL: types.Set(&url)})
}

func (s *ProfileService) SetChat(ctx context.Context, chat types.Chat) (types.User, error) {
	if strings.TrimSpace(chat.ThreadID) == "" || strings.TrimSpace(chat.AssistantID) == "" {
		return types.User{}, newError(KindInvalidInput, "thread_id and assistant_id are required")
	}
	return s.update(ctx, chat.UserID, types.UserPatch{
		ThreadID:    types.Set(&chat.ThreadID),
		AssistantID: types.Set(&chat.AssistantID),
	})
}

func (s *ProfileService) Chat(ctx context.Context, userID int) (types.Chat, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return types.Chat{}, err
	}
	chat := types.Chat{UserID: user.ID}
	if user.ThreadID != nil {
		chat.ThreadID = *user.ThreadID
	}
	if user.AssistantID != nil {
		chat.AssistantID = *user.AssistantID
	}
	return chat, nil
}

func (s *ProfileService) SetPushToken(ctx context.Context, userID int, token string) (types.User, error) {
	if strings.TrimSpace(token) == "" {
		return types.User{}, newError(KindInvalidInput, "fcm_token is required")
	}
	return s.update(ctx, userID, types.UserPatch{PushToken: types.Set(&token)})
}

// ChangePassword replaces the password after checking the current one.
func (s *ProfileService) ChangePassword(ctx context.Context, userID int, current, next string) (int, error) {
	if err := validatePassword(next); err != nil {
		return 0, err
	}
	user, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !s.hasher.Verify(current, user.PasswordHash) {
		return 0, newError(KindWrongPassword, "Current password is incorrect")
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return 0, unknownError("Could not hash password", err)
	}
	if _, err := s.update(ctx, userID, types.UserPatch{PasswordHash: types.Set(hash)}); err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "password changed", "user_id", userID)
	return userID, nil
}

func (s *ProfileService) update(ctx context.Context, userID int, patch types.UserPatch) (types.User, error) {
	user, err := s.users.Update(ctx, userID, patch)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			email, _ := patch.Email.Get()
			return types.User{}, emailTaken(email)
		}
		return types.User{}, userLookupError(err)
	}
	return user, nil
}

func userLookupError(err error) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindUserNotFound, "User not found")
	}
	return dbError(err)
}

func emailTaken(email string) *Error {
	return newError(KindUserExists, "Email %s already used", email)
}
