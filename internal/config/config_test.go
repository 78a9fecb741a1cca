package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg := Load()

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "eu-central-1", cfg.Region)
	assert.Equal(t, 5*time.Minute, cfg.PresignTTL)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	assert.Equal(t, "portal_session", cfg.CookieName)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdle)
	assert.Equal(t, 9000, cfg.CodeMaxAttempts)
	assert.Equal(t, 16, cfg.DirectoryFanout)
	assert.Equal(t, "de", cfg.CollationLocale)
	assert.Equal(t, 10*time.Second, cfg.StoreTimeout)
}

func TestLoad_Firebase(t *testing.T) {
	os.Clearenv()
	t.Setenv("STORE_BACKEND", "firebase")
	t.Setenv("FIREBASE_DATABASE_URL", "https://portal.example.firebaseio.com")
	t.Setenv("FIREBASE_API_KEY", "key")
	t.Setenv("CORS_ORIGIN", "https://portal.example/, https://admin.example")
	t.Setenv("COOKIE_SECURE", "true")

	cfg := Load()

	assert.Equal(t, BackendFirebase, cfg.StoreBackend)
	assert.Equal(t, "https://portal.example.firebaseio.com", cfg.FirebaseURL)
	assert.Equal(t, []string{"https://portal.example", "https://admin.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.CookieSecure)
}

func TestLoad_Panics(t *testing.T) {
	tests := map[string]map[string]string{
		"bad fanout":           {"DIRECTORY_FANOUT": "many"},
		"bad idle timeout":     {"SESSION_IDLE_TIMEOUT": "soon"},
		"unknown backend":      {"STORE_BACKEND": "postgres"},
		"firebase without url": {"STORE_BACKEND": "firebase", "FIREBASE_API_KEY": "key"},
		"dynamodb no table":    {"STORE_BACKEND": "dynamodb"},
		"production no secret": {"ENV": "production"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range env {
				t.Setenv(k, v)
			}
			assert.Panics(t, func() { Load() })
		})
	}
}

func TestLoadLambda(t *testing.T) {
	os.Clearenv()
	t.Setenv("DDB_TABLE", "portal")
	t.Setenv("S3_BUCKET", "media")

	cfg := LoadLambda()
	assert.Equal(t, "portal", cfg.Table)
	assert.Equal(t, "media", cfg.Bucket)

	os.Clearenv()
	assert.Panics(t, func() { LoadLambda() })
}
