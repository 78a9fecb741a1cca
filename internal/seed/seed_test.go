package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kylejryan/claims-agent-portal/internal/auth"
	"github.com/kylejryan/claims-agent-portal/internal/rtdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
store:
  AgentProfile:
    u1:
      agentID: "4821"
  clientsForAgent:
    4821:
      b:
        name: Alice
  Users:
    b:
      name: Alice
      kfzSchäden:
        "Unfall 05-03-2024":
          schadenmeldung: https://docs.example/r1.pdf
users:
  - email: agent@example.de
    password: secret1
    uid: u1
`

func TestLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	store := rtdb.NewMemory()
	users := auth.NewMemory()
	require.NoError(t, Load(ctx, path, store, users))

	snap, err := store.Get(ctx, "clientsForAgent/4821/b/name")
	require.NoError(t, err)
	name, _ := snap.String()
	assert.Equal(t, "Alice", name)

	snap, err = store.Get(ctx, "Users/b/kfzSchäden")
	require.NoError(t, err)
	assert.Equal(t, []string{"Unfall 05-03-2024"}, snap.Keys())

	id, err := users.SignIn(ctx, "agent@example.de", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UID)
}

func TestApply_NilUsers(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.NoError(t, Apply(context.Background(), f, rtdb.NewMemory(), nil))
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("store: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), rtdb.NewMemory(), nil)
	assert.Error(t, err)
}
