package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kylejryan/claims-agent-portal/internal/config"
	"github.com/kylejryan/claims-agent-portal/internal/rtdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRun_StartsAndShutsDown(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("PORT", "0")
	t.Setenv("STORE_BACKEND", "memory")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	assert.NoError(t, Run(ctx))
}

func TestBuildBackend_MemorySeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  AgentProfile:
    u1:
      agentID: "4821"
users:
  - email: agent@example.de
    password: secret1
    uid: u1
`), 0o600))

	ctx := context.Background()
	b, err := buildBackend(ctx, config.Env{StoreBackend: config.BackendMemory, SeedFile: path}, zaptest.NewLogger(t))
	require.NoError(t, err)

	snap, err := b.store.Get(ctx, "AgentProfile/u1/agentID")
	require.NoError(t, err)
	code, _ := snap.String()
	assert.Equal(t, "4821", code)

	id, err := b.provider.SignIn(ctx, "agent@example.de", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UID)
	assert.Nil(t, b.linker)
}

func TestBuildBackend_Firebase(t *testing.T) {
	b, err := buildBackend(context.Background(), config.Env{
		StoreBackend:   config.BackendFirebase,
		FirebaseURL:    "https://portal.example.firebaseio.com",
		FirebaseAPIKey: "key",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &rtdb.Firebase{}, b.store)
}

func TestBuildBackend_MissingSeed(t *testing.T) {
	_, err := buildBackend(context.Background(), config.Env{
		StoreBackend: config.BackendMemory,
		SeedFile:     filepath.Join(t.TempDir(), "missing.yaml"),
	}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
