package portal

import (
	"context"
	"errors"
	"testing"

	"github.com/kylejryan/claims-agent-portal/internal/auth"
	"github.com/kylejryan/claims-agent-portal/internal/claims"
	"github.com/kylejryan/claims-agent-portal/internal/directory"
	"github.com/kylejryan/claims-agent-portal/internal/models"
	"github.com/kylejryan/claims-agent-portal/internal/rtdb"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// flakyStore fails reads of the paths fail matches.
type flakyStore struct {
	rtdb.Store
	fail func(path string) bool
}

func (f *flakyStore) Get(ctx context.Context, path string) (rtdb.Snapshot, error) {
	if f.fail != nil && f.fail(path) {
		return rtdb.Snapshot{}, errors.New("permission denied")
	}
	return f.Store.Get(ctx, path)
}

type fixture struct {
	store *flakyStore
	sess  *auth.Session
	m     *Machine
}

var users *auth.Memory

func authUsers(t *testing.T) *auth.Memory {
	t.Helper()
	if users == nil {
		users = auth.NewMemory()
		require.NoError(t, users.AddUser("agent@example.de", "secret1", "u1"))
		require.NoError(t, users.AddUser("orphan@example.de", "secret3", "u3"))
	}
	return users
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := rtdb.NewMemory()
	require.NoError(t, mem.Set(ctx, "AgentProfile/u1/agentID", "4821"))
	require.NoError(t, mem.Set(ctx, "clientsForAgent/4821", map[string]any{
		"a": map[string]any{"name": "Bob"},
		"b": map[string]any{"name": "Alice"},
		"c": map[string]any{"since": "2021"},
	}))
	require.NoError(t, mem.Set(ctx, "Users/b", map[string]any{
		"name":        "Alice",
		"phoneNumber": "0151 2345678",
		"email":       "alice@example.de",
		"kfzSchäden": map[string]any{
			"Unfall 05-03-2024":  map[string]any{"schadenmeldung": "https://docs.example/r1.pdf"},
			"Kratzer 20-01-2024": map[string]any{"fotos": "https://docs.example/p2.zip"},
			"Notiz":              map[string]any{"fotos": "https://docs.example/p3.zip"},
		},
		"hausHaltSchaden": map[string]any{
			"feuer": map[string]any{
				"Brand 01-02-2023": map[string]any{"fotos": "https://docs.example/p4.zip"},
			},
		},
	}))

	store := &flakyStore{Store: mem}
	sess := auth.NewSession(authUsers(t))
	m := New(Deps{
		Auth:      sess,
		Store:     store,
		Directory: directory.New(store, 4, "de"),
		Records:   claims.NewBrowser(store, nil),
		Log:       zaptest.NewLogger(t),
	})
	t.Cleanup(m.Close)
	return &fixture{store: store, sess: sess, m: m}
}

func (f *fixture) dispatch(t *testing.T, ev Event) View {
	t.Helper()
	v, err := f.m.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	return v
}

func TestMount_NoIdentityStartsAtLogin(t *testing.T) {
	f := newFixture(t)
	v := f.m.Mount(context.Background())
	want := View{State: StateLogin, Allowed: []Kind{KindLogin, KindLogout}}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("view mismatch (-want +got):\n%s", diff)
	}
}

func TestMount_ExistingIdentityLoadsClients(t *testing.T) {
	f := newFixture(t)
	_, err := f.sess.SignIn(context.Background(), "agent@example.de", "secret1")
	require.NoError(t, err)

	v := f.m.Mount(context.Background())
	assert.Equal(t, StateClients, v.State)
	assert.Equal(t, "4821", v.Agent.Code)
}

func TestMachine_Walkthrough(t *testing.T) {
	f := newFixture(t)
	f.m.Mount(context.Background())

	v := f.dispatch(t, Login{Email: "agent@example.de", Password: "secret1"})
	want := View{
		State:   StateClients,
		Agent:   &Agent{UID: "u1", Email: "agent@example.de", Code: "4821"},
		Clients: []directory.Client{{ID: "b", Name: "Alice"}, {ID: "a", Name: "Bob"}},
		Allowed: []Kind{KindLogout, KindSelectClient},
	}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("clients view mismatch (-want +got):\n%s", diff)
	}

	v = f.dispatch(t, SelectClient{ClientID: "b"})
	assert.Equal(t, StateProfile, v.State)
	assert.Equal(t, &models.ClientProfile{ID: "b", Name: "Alice", PhoneNumber: "0151 2345678", Email: "alice@example.de"}, v.Client)

	v = f.dispatch(t, OpenCategory{Category: "kfz"})
	assert.Equal(t, ListState(claims.Kfz), v.State)
	assert.Equal(t, []string{"Unfall 05-03-2024", "Kratzer 20-01-2024", "Notiz"}, v.Records)

	v = f.dispatch(t, SelectRecord{Key: "Unfall 05-03-2024"})
	assert.Equal(t, StateModal, v.State)
	assert.Equal(t, claims.Kfz, v.Category)

	v = f.dispatch(t, ViewReport{})
	assert.Equal(t, &Modal{Key: "Unfall 05-03-2024", Link: "https://docs.example/r1.pdf"}, v.Modal)

	v = f.dispatch(t, DownloadPhotos{})
	assert.Equal(t, &Modal{Key: "Unfall 05-03-2024", Notice: MsgNoPhotos}, v.Modal)

	v = f.dispatch(t, Dismiss{})
	assert.Equal(t, ListState(claims.Kfz), v.State)
	assert.Nil(t, v.Modal)

	v = f.dispatch(t, Back{})
	assert.Equal(t, StateProfile, v.State)
	assert.Empty(t, v.Records)

	v = f.dispatch(t, OpenCategory{Category: HouseholdCategory})
	assert.Equal(t, StateHousehold, v.State)

	v = f.dispatch(t, OpenCategory{Category: "fire"})
	assert.Equal(t, ListState(claims.Fire), v.State)
	assert.Equal(t, []string{"Brand 01-02-2023"}, v.Records)

	f.dispatch(t, SelectRecord{Key: "Brand 01-02-2023"})
	v = f.dispatch(t, ViewReport{})
	assert.Equal(t, MsgNoReport, v.Modal.Notice)
	v = f.dispatch(t, DownloadPhotos{})
	assert.Equal(t, "https://docs.example/p4.zip", v.Modal.Link)

	assert.Equal(t, ListState(claims.Fire), f.dispatch(t, Back{}).State)
	assert.Equal(t, StateHousehold, f.dispatch(t, Back{}).State)
	assert.Equal(t, StateProfile, f.dispatch(t, Back{}).State)
	assert.Equal(t, StateClients, f.dispatch(t, Back{}).State)

	v = f.dispatch(t, Logout{})
	if diff := cmp.Diff(View{State: StateLogin, Allowed: []Kind{KindLogin, KindLogout}}, v); diff != "" {
		t.Fatalf("logout view mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, f.sess.Current())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.m.Mount(context.Background())

	v := f.dispatch(t, Login{Email: "agent@example.de", Password: "wrong-password"})
	assert.Equal(t, StateLogin, v.State)
	assert.Equal(t, MsgInvalidCredentials, v.Message)
	assert.Nil(t, v.Agent)
}

func TestLogin_NoAgentProfileSignsOut(t *testing.T) {
	f := newFixture(t)
	f.m.Mount(context.Background())

	v := f.dispatch(t, Login{Email: "orphan@example.de", Password: "secret3"})
	assert.Equal(t, StateLogin, v.State)
	assert.Equal(t, MsgNoAgentProfile, v.Message)
	assert.Nil(t, f.sess.Current())

	// the sign-out notification must not disturb the next view
	assert.Equal(t, StateLogin, f.m.View(context.Background()).State)
}

func TestDispatch_InvalidTransitionKeepsState(t *testing.T) {
	f := newFixture(t)
	f.m.Mount(context.Background())

	v, err := f.m.Dispatch(context.Background(), SelectClient{ClientID: "b"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateLogin, v.State)

	f.dispatch(t, Login{Email: "agent@example.de", Password: "secret1"})
	_, err = f.m.Dispatch(context.Background(), SelectClient{ClientID: "c"})
	assert.ErrorIs(t, err, ErrUnknownSelection)
	assert.Equal(t, StateClients, f.m.State())

	f.dispatch(t, SelectClient{ClientID: "b"})
	_, err = f.m.Dispatch(context.Background(), OpenCategory{Category: "fire"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.m.Dispatch(context.Background(), OpenCategory{Category: "boats"})
	assert.ErrorIs(t, err, ErrUnknownSelection)
	_, err = f.m.Dispatch(context.Background(), Dismiss{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateProfile, f.m.State())

	f.dispatch(t, OpenCategory{Category: "kfz"})
	_, err = f.m.Dispatch(context.Background(), SelectRecord{Key: "Brand 01-02-2023"})
	assert.ErrorIs(t, err, ErrUnknownSelection)
}

func TestSync_ExternalSignOut(t *testing.T) {
	f := newFixture(t)
	f.m.Mount(context.Background())
	f.dispatch(t, Login{Email: "agent@example.de", Password: "secret1"})
	f.dispatch(t, SelectClient{ClientID: "a"})

	f.sess.SignOut()
	v := f.m.View(context.Background())
	assert.Equal(t, StateLogin, v.State)
	assert.Nil(t, v.Client)
}

func TestClose_StopsFollowingSession(t *testing.T) {
	f := newFixture(t)
	f.m.Mount(context.Background())
	f.dispatch(t, Login{Email: "agent@example.de", Password: "secret1"})

	f.m.Close()
	f.sess.SignOut()
	assert.Equal(t, StateClients, f.m.View(context.Background()).State)
}

func TestLogin_PartialDirectory(t *testing.T) {
	f := newFixture(t)
	f.store.fail = func(path string) bool { return path == "clientsForAgent/4821/a" }
	f.m.Mount(context.Background())

	v := f.dispatch(t, Login{Email: "agent@example.de", Password: "secret1"})
	assert.Equal(t, StateClients, v.State)
	assert.Equal(t, []directory.Client{{ID: "b", Name: "Alice"}}, v.Clients)
	assert.Equal(t, "1 clients could not be loaded", v.Message)
}

func TestOpenCategory_LoadFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.m.Mount(context.Background())
	f.dispatch(t, Login{Email: "agent@example.de", Password: "secret1"})
	f.dispatch(t, SelectClient{ClientID: "b"})

	f.store.fail = func(path string) bool { return path == "Users/b/unfall" }
	v := f.dispatch(t, OpenCategory{Category: "accidents"})
	assert.Equal(t, ListState(claims.Accidents), v.State)
	assert.Empty(t, v.Records)
	assert.Equal(t, MsgRecordsUnavailable, v.Message)

	// the message only lasts until the next event
	v = f.dispatch(t, Back{})
	assert.Empty(t, v.Message)
}

func TestView_IsASnapshot(t *testing.T) {
	f := newFixture(t)
	f.m.Mount(context.Background())
	v := f.dispatch(t, Login{Email: "agent@example.de", Password: "secret1"})
	v.Clients[0].Name = "Mallory"

	assert.Equal(t, "Alice", f.m.View(context.Background()).Clients[0].Name)
}

func TestTransitions_EveryStateCanLogOut(t *testing.T) {
	table := buildTransitions()
	for _, s := range States() {
		_, ok := table[transitionKey{s, KindLogout}]
		assert.True(t, ok, "state %s", s)
	}
	_, ok := table[transitionKey{StateLogin, KindBack}]
	assert.False(t, ok)
}
