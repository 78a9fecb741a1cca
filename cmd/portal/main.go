// Package main serves the agent portal API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kylejryan/claims-agent-portal/internal/agents"
	"github.com/kylejryan/claims-agent-portal/internal/auth"
	"github.com/kylejryan/claims-agent-portal/internal/authz"
	"github.com/kylejryan/claims-agent-portal/internal/awsutil"
	"github.com/kylejryan/claims-agent-portal/internal/claims"
	"github.com/kylejryan/claims-agent-portal/internal/codegen"
	"github.com/kylejryan/claims-agent-portal/internal/config"
	"github.com/kylejryan/claims-agent-portal/internal/ddb"
	"github.com/kylejryan/claims-agent-portal/internal/directory"
	"github.com/kylejryan/claims-agent-portal/internal/handler"
	"github.com/kylejryan/claims-agent-portal/internal/logger"
	"github.com/kylejryan/claims-agent-portal/internal/portal"
	"github.com/kylejryan/claims-agent-portal/internal/rtdb"
	"github.com/kylejryan/claims-agent-portal/internal/s3io"
	"github.com/kylejryan/claims-agent-portal/internal/seed"
	"github.com/kylejryan/claims-agent-portal/internal/session"
	"github.com/kylejryan/claims-agent-portal/internal/validate"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// backend is the store and sign-in provider selected by STORE_BACKEND.
type backend struct {
	store    rtdb.Store
	provider auth.Provider
	linker   *s3io.Linker
	uploads  agents.Uploads
}

// Run is the testable entrypoint for the application.
func Run(ctx context.Context) error {
	env := config.Load()
	log := logger.New(env.Env)
	defer func() { _ = log.Sync() }()
	log.Info("starting agent portal", zap.String("backend", env.StoreBackend), zap.String("addr", env.Addr()))

	b, err := buildBackend(ctx, env, log)
	if err != nil {
		log.Error("backend setup failed", zap.Error(err))
		return err
	}

	v := validate.New()
	dir := directory.New(b.store, env.DirectoryFanout, env.CollationLocale)
	browser := claims.NewBrowser(b.store, b.linker)
	sessions := session.NewManager(b.provider, func(sess *auth.Session) *portal.Machine {
		return portal.New(portal.Deps{
			Auth:      sess,
			Store:     b.store,
			Directory: dir,
			Records:   browser,
			Log:       log,
		})
	}, env.SessionIdle, log)

	gen := codegen.New(b.store, log, codegen.WithMaxAttempts(env.CodeMaxAttempts))
	h := handler.New(log, handler.Deps{
		Sessions:     sessions,
		Issuer:       authz.NewIssuer(env.JWTSecret, env.CookieName, env.CookieSecure, env.SessionIdle),
		Agents:       agents.NewService(b.store, gen, v, b.uploads, log),
		Validate:     v,
		StoreTimeout: env.StoreTimeout,
	})

	srv := &http.Server{
		Addr:              env.Addr(),
		Handler:           h.Router(env.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sessions.Start(time.Minute)
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		log.Error("server error", zap.Error(err))
	}

	log.Info("shutting down server")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	sessions.Stop()
	return err
}

func buildBackend(ctx context.Context, env config.Env, log *zap.Logger) (backend, error) {
	var b backend

	switch env.StoreBackend {
	case config.BackendFirebase:
		b.store = rtdb.NewFirebase(rtdb.FirebaseConfig{
			BaseURL: env.FirebaseURL,
			Secret:  env.FirebaseSecret,
			Timeout: env.StoreTimeout,
		})
		b.provider = auth.NewFirebase(auth.FirebaseConfig{APIKey: env.FirebaseAPIKey, Timeout: env.StoreTimeout})

	case config.BackendDynamoDB:
		cfg, _, err := awsutil.Load(ctx, env.Region)
		if err != nil {
			return b, fmt.Errorf("aws config: %w", err)
		}
		b.store = &ddb.Store{DB: dynamodb.NewFromConfig(cfg), Table: env.Table}
		users := auth.NewMemory()
		if env.SeedFile != "" {
			if err := seedUsers(ctx, env.SeedFile, b.store, users); err != nil {
				return b, err
			}
		}
		b.provider = users

	default:
		mem := rtdb.NewMemory()
		users := auth.NewMemory()
		if env.SeedFile != "" {
			if err := seed.Load(ctx, env.SeedFile, mem, users); err != nil {
				return b, err
			}
			log.Info("seeded memory store", zap.String("file", env.SeedFile))
		}
		b.store, b.provider = mem, users
	}

	if env.Bucket == "" {
		return b, nil
	}
	cfg, endpoint, err := awsutil.Load(ctx, env.Region)
	if err != nil {
		return b, fmt.Errorf("aws config: %w", err)
	}
	s3c := awsutil.S3(cfg, endpoint)
	p := s3.NewPresignClient(s3c)
	b.linker = &s3io.Linker{P: p, TTL: env.PresignTTL}
	b.uploads = agents.Uploads{Presigner: p, Bucket: env.Bucket, TTL: env.PresignTTL}
	return b, nil
}

// seedUsers registers only the accounts of the seed file; the tree is
// left alone so a shared table is never overwritten.
func seedUsers(ctx context.Context, path string, store rtdb.Store, users *auth.Memory) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed: %w", err)
	}
	f, err := seed.Parse(data)
	if err != nil {
		return err
	}
	return seed.Apply(ctx, seed.File{Users: f.Users}, store, users)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := Run(ctx); err != nil {
		os.Exit(1)
	}
}
