package main

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/insightloop/surveyd/internal/api"
	dbstore "github.com/insightloop/surveyd/internal/db"
	"github.com/insightloop/surveyd/internal/middleware"
	"github.com/insightloop/surveyd/internal/services"
	"github.com/insightloop/surveyd/internal/utils"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	addr := utils.SafeEnv("SURVEYD_ADDR", ":8080")
	dbPath := utils.SafeEnv("SURVEYD_DB_PATH", "data/surveyd.db")

	store, closeStore, err := openStore(dbPath)
	if err != nil {
		slog.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	cfg := api.Config{
		AdminEmail:    os.Getenv("SURVEYD_ADMIN_EMAIL"),
		AdminPassHash: adminPassHash(),
		RateLimit: services.RateLimitPolicy{
			MaxSubmissions: utils.EnvInt("SURVEYD_MAX_SUBMISSIONS", 3),
			BlockWindow:    time.Duration(utils.EnvInt("SURVEYD_BLOCK_DAYS", 30)) * 24 * time.Hour,
		},
	}

	mux := http.NewServeMux()
	api.NewRouter(store, cfg).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "name": "surveyd"})
	})

	handler := middleware.CORS(middleware.SecureHeaders(middleware.NoStore(middleware.WithAuth(mux))))

	slog.Info("surveyd listening", "addr", addr, "db", dbPath)
	if err := http.ListenAndServe(addr, handler); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openStore opens the SQLite-backed store, or the in-memory store when
// SURVEYD_DB_PATH is set to "memory" (useful for local runs and demos).
func openStore(dbPath string) (api.Store, func(), error) {
	if dbPath == "memory" {
		return api.NewMemoryStore(), func() {}, nil
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	sqlDB, err := sql.Open("sqlite3", "file:"+filepath.ToSlash(dbPath)+"?cache=shared&_busy_timeout=5000")
	if err != nil {
		return nil, nil, err
	}
	if err := dbstore.RunMigrations(sqlDB, os.Getenv("SURVEYD_MIGRATIONS_DIR")); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	store, err := dbstore.NewStore(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	closer := func() {
		if err := sqlDB.Close(); err != nil {
			slog.Warn("close sqlite db", "error", err)
		}
	}
	return store, closer, nil
}

// adminPassHash resolves the admin credential. A pre-computed bcrypt
// hash takes precedence; a plaintext password is hashed at boot for
// convenience in small deployments.
func adminPassHash() []byte {
	if h := os.Getenv("SURVEYD_ADMIN_PASSWORD_HASH"); h != "" {
		return []byte(h)
	}
	pw := os.Getenv("SURVEYD_ADMIN_PASSWORD")
	if pw == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("hash admin password", "error", err)
		os.Exit(1)
	}
	return hash
}
