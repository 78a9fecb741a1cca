// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFirebase = "firebase"
	BackendDynamoDB = "dynamodb"
)

const devJWTSecret = "development-only-secret"

// Env holds the configuration values for the application.
type Env struct {
	Env  string
	Port string

	StoreBackend   string
	FirebaseURL    string
	FirebaseSecret string
	FirebaseAPIKey string

	Region     string
	Table      string
	Bucket     string
	PresignTTL time.Duration

	JWTSecret    string
	CookieName   string
	CookieSecure bool
	CORSOrigins  []string
	SessionIdle  time.Duration

	CodeMaxAttempts int
	DirectoryFanout int
	CollationLocale string
	StoreTimeout    time.Duration
	SeedFile        string
}

// Load reads .env when present, then the environment. Malformed values
// and keys missing for the selected backend panic.
func Load() Env {
	_ = godotenv.Load() // ok if missing

	e := Env{
		Env:  get("ENV", "development"),
		Port: get("PORT", "8080"),

		StoreBackend:   strings.ToLower(get("STORE_BACKEND", BackendMemory)),
		FirebaseURL:    get("FIREBASE_DATABASE_URL", ""),
		FirebaseSecret: get("FIREBASE_DB_SECRET", ""),
		FirebaseAPIKey: get("FIREBASE_API_KEY", ""),

		Region:     get("AWS_REGION", "eu-central-1"),
		Table:      get("DDB_TABLE", ""),
		Bucket:     get("S3_BUCKET", ""),
		PresignTTL: time.Duration(atoi("PRESIGN_TTL_SECONDS", "300")) * time.Second,

		CookieName:   get("COOKIE_NAME", "portal_session"),
		CookieSecure: get("COOKIE_SECURE", "") == "true",
		CORSOrigins:  origins(get("CORS_ORIGIN", "http://localhost:3000")),
		SessionIdle:  duration("SESSION_IDLE_TIMEOUT", "30m"),

		CodeMaxAttempts: atoi("CODE_MAX_ATTEMPTS", "9000"),
		DirectoryFanout: atoi("DIRECTORY_FANOUT", "16"),
		CollationLocale: get("COLLATION_LOCALE", "de"),
		StoreTimeout:    duration("STORE_TIMEOUT", "10s"),
		SeedFile:        get("SEED_FILE", ""),
	}

	if e.Env == "production" {
		e.JWTSecret = must("JWT_SECRET")
	} else {
		e.JWTSecret = get("JWT_SECRET", devJWTSecret)
	}

	switch e.StoreBackend {
	case BackendMemory:
	case BackendFirebase:
		e.FirebaseURL = must("FIREBASE_DATABASE_URL")
		e.FirebaseAPIKey = must("FIREBASE_API_KEY")
	case BackendDynamoDB:
		e.Table = must("DDB_TABLE")
	default:
		log.Panicf("Invalid STORE_BACKEND: %q", e.StoreBackend)
	}
	return e
}

// LoadLambda reads the subset the agent Lambdas need: the agents
// table and, optionally, the media bucket.
func LoadLambda() Env {
	return Env{
		Env:             get("ENV", "production"),
		Region:          get("AWS_REGION", "eu-central-1"),
		Table:           must("DDB_TABLE"),
		Bucket:          get("S3_BUCKET", ""),
		PresignTTL:      time.Duration(atoi("PRESIGN_TTL_SECONDS", "300")) * time.Second,
		CodeMaxAttempts: atoi("CODE_MAX_ATTEMPTS", "9000"),
	}
}

// Addr is the listen address.
func (e Env) Addr() string { return ":" + e.Port }

// get returns the value of the environment variable k or def if not set.
func get(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// must returns the value of the environment variable k or panics if not set.
func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic(fmt.Errorf("missing env %s", k))
	}
	return v
}

func atoi(k, def string) int {
	n, err := strconv.Atoi(get(k, def))
	if err != nil {
		log.Panicf("Invalid %s: %v", k, err)
	}
	return n
}

func duration(k, def string) time.Duration {
	d, err := time.ParseDuration(get(k, def))
	if err != nil {
		log.Panicf("Invalid %s: %v", k, err)
	}
	return d
}

// origins splits a comma-separated origin list.
func origins(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if o := strings.TrimRight(strings.TrimSpace(p), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}
