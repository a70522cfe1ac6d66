//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/accounts-svc/apiserver/config"
	"github.com/accounts-svc/apiserver/internal/db"
	"github.com/accounts-svc/apiserver/internal/server"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	setTestEnv()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	_ = srv.Shutdown(shutdownCtx)
	stop()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

type userResponse struct {
	ID          int      `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	City        string   `json:"city"`
	Preferences []string `json:"preferences"`
	AvatarLink  string   `json:"avatar_link"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func TestAccountLifecycle(t *testing.T) {
	email := fmt.Sprintf("user_%d@example.com", time.Now().UnixNano())
	password := "testpass123!"

	var created userResponse
	status := doJSON(t, http.MethodPost, "/users/signup", "", map[string]any{
		"username":    "tester",
		"email":       email,
		"password":    password,
		"city":        "Rosario",
		"preferences": []string{"Cafe"},
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("signup status %d", status)
	}
	if created.ID == 0 {
		t.Fatalf("expected user ID to be set")
	}

	var dupe errorResponse
	if status := doJSON(t, http.MethodPost, "/users/signup", "", map[string]any{
		"username": "other",
		"email":    email,
		"password": password,
	}, &dupe); status != http.StatusConflict {
		t.Fatalf("duplicate signup status %d", status)
	}
	if !strings.HasPrefix(dupe.Error, "USER_EXISTS_ERROR") {
		t.Fatalf("unexpected duplicate error: %q", dupe.Error)
	}

	var tokens tokenResponse
	if status := doJSON(t, http.MethodPost, "/users/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &tokens); status != http.StatusOK {
		t.Fatalf("login status %d", status)
	}
	if tokens.TokenType != "Bearer" || tokens.Token == "" || tokens.RefreshToken == "" {
		t.Fatalf("unexpected token pair: %+v", tokens)
	}

	var subject int
	if status := doJSON(t, http.MethodGet, "/users/verify_id_token", tokens.Token, nil, &subject); status != http.StatusOK {
		t.Fatalf("verify status %d", status)
	}
	if subject != created.ID {
		t.Fatalf("verify returned %d, want %d", subject, created.ID)
	}

	var refreshed tokenResponse
	if status := doJSON(t, http.MethodPost, "/users/refresh_token", tokens.RefreshToken, nil, &refreshed); status != http.StatusOK {
		t.Fatalf("refresh status %d", status)
	}
	if status := doJSON(t, http.MethodPost, "/users/refresh_token", tokens.RefreshToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("reused refresh token status %d", status)
	}

	var updated userResponse
	if status := doJSON(t, http.MethodPatch, "/users", refreshed.Token, map[string]any{
		"city":        "Córdoba",
		"preferences": []string{"Museum", "Park"},
	}, &updated); status != http.StatusOK {
		t.Fatalf("update status %d", status)
	}
	if updated.City != "Córdoba" || len(updated.Preferences) != 2 {
		t.Fatalf("unexpected updated user: %+v", updated)
	}

	avatar, err := uploadAvatar(refreshed.Token)
	if err != nil {
		t.Fatalf("upload avatar: %v", err)
	}
	if !strings.Contains(avatar.AvatarLink, fmt.Sprintf("avatars/%d", created.ID)) {
		t.Fatalf("unexpected avatar link: %q", avatar.AvatarLink)
	}

	var deleted userResponse
	if status := doJSON(t, http.MethodDelete, "/users", refreshed.Token, nil, &deleted); status != http.StatusOK {
		t.Fatalf("delete status %d", status)
	}
	if deleted.ID != created.ID {
		t.Fatalf("deleted %d, want %d", deleted.ID, created.ID)
	}
	if status := doJSON(t, http.MethodGet, fmt.Sprintf("/users/%d", created.ID), "", nil, nil); status != http.StatusNotFound {
		t.Fatalf("get after delete status %d", status)
	}
}

func TestPasswordRecovery(t *testing.T) {
	email := fmt.Sprintf("recover_%d@example.com", time.Now().UnixNano())
	password := "testpass123!"

	var created userResponse
	if status := doJSON(t, http.MethodPost, "/users/signup", "", map[string]any{
		"username": "forgetful",
		"email":    email,
		"password": password,
	}, &created); status != http.StatusCreated {
		t.Fatalf("signup status %d", status)
	}

	var recovery struct {
		UserID           int `json:"user_id"`
		LeftoverAttempts int `json:"leftover_attempts"`
	}
	if status := doJSON(t, http.MethodPost, "/users/password/recover", "", map[string]string{"email": email}, &recovery); status != http.StatusOK {
		t.Fatalf("initiate status %d", status)
	}
	if recovery.UserID != created.ID || recovery.LeftoverAttempts != 3 {
		t.Fatalf("unexpected recovery: %+v", recovery)
	}

	code, err := recoveryCode(created.ID)
	if err != nil {
		t.Fatalf("read recovery code: %v", err)
	}

	if status := doJSON(t, http.MethodPut, "/users/password/recover", "", map[string]string{
		"email":        email,
		"code":         "zzzzzz",
		"new_password": "newpass123!",
	}, nil); status != http.StatusBadRequest {
		t.Fatalf("wrong code status %d", status)
	}

	var userID int
	if status := doJSON(t, http.MethodPut, "/users/password/recover", "", map[string]string{
		"email":        email,
		"code":         code,
		"new_password": "newpass123!",
	}, &userID); status != http.StatusOK {
		t.Fatalf("complete status %d", status)
	}
	if userID != created.ID {
		t.Fatalf("complete returned %d, want %d", userID, created.ID)
	}

	if status := doJSON(t, http.MethodPost, "/users/login", "", map[string]string{
		"email":    email,
		"password": "newpass123!",
	}, nil); status != http.StatusOK {
		t.Fatalf("login with new password status %d", status)
	}
	if status := doJSON(t, http.MethodPost, "/users/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, nil); status != http.StatusBadRequest {
		t.Fatalf("login with old password status %d", status)
	}
}

// doJSON sends body as JSON and decodes the response into out when out is
// not nil. It returns the status code.
func doJSON(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func uploadAvatar(token string) (userResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="avatar"; filename="avatar.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		return userResponse{}, err
	}
	if _, err := part.Write([]byte("\x89PNG\r\n\x1a\nfake image body")); err != nil {
		return userResponse{}, err
	}
	if err := writer.Close(); err != nil {
		return userResponse{}, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/users/avatar", &buf)
	if err != nil {
		return userResponse{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return userResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return userResponse{}, fmt.Errorf("avatar status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed userResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return userResponse{}, err
	}
	return parsed, nil
}

// recoveryCode reads the emailed code straight from the database.
func recoveryCode(userID int) (string, error) {
	conn, err := sql.Open("postgres", db.PostgresURL(config.LoadConfig().Database))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var code string
	err = conn.QueryRowContext(ctx, `SELECT code FROM password_recoveries WHERE user_id = $1`, userID).Scan(&code)
	return code, err
}

func setTestEnv() {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "accounts")
	_ = os.Setenv("DB_PASSWORD", "accounts")
	_ = os.Setenv("DB_NAME", "accounts")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "avatars")
	_ = os.Setenv("SMTP_HOST", "localhost")
	_ = os.Setenv("SMTP_PORT", "1025")
	_ = os.Setenv("SMTP_USE_TLS", "false")
	_ = os.Setenv("MQ_BACKEND", "none")
	_ = os.Setenv("LOG_LEVEL", "warn")
}

func waitForPostgres(ctx context.Context) error {
	conn, err := sql.Open("postgres", db.PostgresURL(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New(migrationsURL, db.PostgresURL(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer(ctx context.Context) (*server.Server, error) {
	srv, err := server.New(ctx, config.LoadConfig())
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
