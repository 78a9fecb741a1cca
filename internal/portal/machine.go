// Package portal drives the agent portal: which view is shown and which
// data each view needs.
package portal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/kylejryan/claims-agent-portal/internal/auth"
	"github.com/kylejryan/claims-agent-portal/internal/claims"
	"github.com/kylejryan/claims-agent-portal/internal/directory"
	"github.com/kylejryan/claims-agent-portal/internal/models"
	"github.com/kylejryan/claims-agent-portal/internal/rtdb"

	"go.uber.org/zap"
)

// Messages shown to the agent.
const (
	MsgInvalidCredentials = "invalid credentials"
	MsgSignInFailed       = "sign-in failed, please try again"
	MsgNoAgentProfile     = "no agent profile for this account"
	MsgClientsUnavailable = "clients could not be loaded"
	MsgClientUnavailable  = "client details could not be loaded"
	MsgRecordsUnavailable = "records could not be loaded"
	MsgNoReport           = "no report available"
	MsgNoPhotos           = "no photos available"
	MsgLinkUnavailable    = "document could not be opened"
)

const agentProfileRoot = "AgentProfile"

// Directory loads an agent's clients.
type Directory interface {
	Load(ctx context.Context, agentCode string) (directory.Result, error)
}

// Records lists and opens damage records.
type Records interface {
	LoadCategory(ctx context.Context, clientID string, c claims.Category) ([]string, error)
	ViewReport(ctx context.Context, clientID string, c claims.Category, key string) (string, error)
	DownloadPhotos(ctx context.Context, clientID string, c claims.Category, key string) (string, error)
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Auth      *auth.Session
	Store     rtdb.Store
	Directory Directory
	Records   Records
	Log       *zap.Logger
}

// Machine is the view state of one portal session. Events are applied
// one at a time.
type Machine struct {
	deps  Deps
	log   *zap.Logger
	table map[transitionKey]action

	mu          sync.Mutex
	state       State
	identity    *auth.Identity
	agentCode   string
	clients     []directory.Client
	client      *models.ClientProfile
	category    claims.Category
	records     []string
	modal       *Modal
	message     string
	unsubscribe func()

	// auth changes reported by the session, applied on the next Dispatch or View.
	authMu      sync.Mutex
	pending     *auth.Identity
	pendingSeen bool
}

// New returns a machine in the login state. Call Mount to follow the
// auth session.
func New(deps Deps) *Machine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		deps:  deps,
		log:   log,
		table: buildTransitions(),
		state: StateLogin,
	}
}

// Mount subscribes to the auth session and derives the initial state
// from the current identity.
func (m *Machine) Mount(ctx context.Context) View {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe == nil {
		m.unsubscribe = m.deps.Auth.OnAuthStateChanged(m.onAuthChange)
	}
	m.syncAuth(ctx)
	return m.view()
}

// Close unsubscribes from the auth session.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// View returns the current view.
func (m *Machine) View(ctx context.Context) View {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncAuth(ctx)
	return m.view()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Dispatch applies ev. When the current state has no transition for ev
// the state is left unchanged and ErrInvalidTransition is returned.
func (m *Machine) Dispatch(ctx context.Context, ev Event) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncAuth(ctx)

	from := m.state
	act, ok := m.table[transitionKey{from, ev.Kind()}]
	if !ok {
		return m.view(), fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev.Kind(), from)
	}

	prevMsg := m.message
	m.message = ""
	next, err := act(m, ctx, ev)
	if err != nil {
		m.message = prevMsg
		return m.view(), err
	}
	m.state = next
	m.log.Debug("portal transition",
		zap.String("from", string(from)),
		zap.String("event", string(ev.Kind())),
		zap.String("to", string(next)))
	return m.view(), nil
}

func (m *Machine) onAuthChange(id *auth.Identity) {
	m.authMu.Lock()
	m.pending = id
	m.pendingSeen = true
	m.authMu.Unlock()
}

// syncAuth applies an auth change reported since the last event.
func (m *Machine) syncAuth(ctx context.Context) {
	m.authMu.Lock()
	id, seen := m.pending, m.pendingSeen
	m.pending, m.pendingSeen = nil, false
	m.authMu.Unlock()
	if !seen {
		return
	}

	switch {
	case id == nil && m.identity != nil:
		m.log.Info("signed out", zap.String("uid", m.identity.UID))
		m.reset()
		m.state = StateLogin
	case id != nil && (m.identity == nil || m.identity.UID != id.UID):
		m.reset()
		m.state = m.enter(ctx, id)
	}
}

// reset drops the identity and every selection.
func (m *Machine) reset() {
	m.identity = nil
	m.agentCode = ""
	m.clients = nil
	m.client = nil
	m.category = ""
	m.records = nil
	m.modal = nil
}

// enter resolves the agent behind id and loads the client directory.
func (m *Machine) enter(ctx context.Context, id *auth.Identity) State {
	code, err := m.resolveAgentCode(ctx, id.UID)
	if err != nil {
		if !errors.Is(err, rtdb.ErrNotFound) {
			m.log.Error("agent profile read failed", zap.String("uid", id.UID), zap.Error(err))
		} else {
			m.log.Warn("no agent profile", zap.String("uid", id.UID))
		}
		m.deps.Auth.SignOut()
		m.reset()
		m.message = MsgNoAgentProfile
		return StateLogin
	}
	m.identity = id
	m.agentCode = code

	res, err := m.deps.Directory.Load(ctx, code)
	if err != nil {
		m.log.Error("client directory load failed", zap.String("agent", code), zap.Error(err))
		m.clients = []directory.Client{}
		m.message = MsgClientsUnavailable
		return StateClients
	}
	m.clients = res.Clients
	if len(res.Failed) > 0 {
		for cid, ferr := range res.Failed {
			m.log.Warn("client read failed", zap.String("path", rtdb.Join(directory.RosterRoot, code, cid)), zap.Error(ferr))
		}
		m.message = fmt.Sprintf("%d clients could not be loaded", len(res.Failed))
	}
	return StateClients
}

func (m *Machine) resolveAgentCode(ctx context.Context, uid string) (string, error) {
	path := rtdb.Join(agentProfileRoot, uid, "agentID")
	snap, err := m.deps.Store.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	switch v := snap.Value().(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%s: %w", path, rtdb.ErrNotFound)
}

func (m *Machine) login(ctx context.Context, ev Event) (State, error) {
	e := ev.(Login)
	id, err := m.deps.Auth.SignIn(ctx, e.Email, e.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			m.message = MsgInvalidCredentials
		} else {
			m.log.Error("sign-in failed", zap.Error(err))
			m.message = MsgSignInFailed
		}
		return StateLogin, nil
	}
	m.log.Info("signed in", zap.String("uid", id.UID))
	return m.enter(ctx, &id), nil
}

func (m *Machine) logout(_ context.Context, _ Event) (State, error) {
	if m.identity != nil {
		m.log.Info("signing out", zap.String("uid", m.identity.UID))
	}
	m.deps.Auth.SignOut()
	m.reset()
	return StateLogin, nil
}

func (m *Machine) selectClient(ctx context.Context, ev Event) (State, error) {
	e := ev.(SelectClient)
	idx := slices.IndexFunc(m.clients, func(c directory.Client) bool { return c.ID == e.ClientID })
	if idx < 0 {
		return "", fmt.Errorf("%w: client %q", ErrUnknownSelection, e.ClientID)
	}

	profile := models.ClientProfile{ID: e.ClientID, Name: m.clients[idx].Name}
	path := rtdb.Join("Users", e.ClientID)
	snap, err := m.deps.Store.Get(ctx, path)
	if err == nil {
		err = snap.Decode(&profile)
	}
	if err != nil {
		m.log.Error("client profile read failed", zap.String("path", path), zap.Error(err))
		m.message = MsgClientUnavailable
	}
	profile.ID = e.ClientID
	m.client = &profile
	m.category = ""
	m.records = nil
	return StateProfile, nil
}

func (m *Machine) openFromProfile(ctx context.Context, ev Event) (State, error) {
	name := ev.(OpenCategory).Category
	if name == HouseholdCategory {
		m.category = ""
		m.records = nil
		return StateHousehold, nil
	}
	c, err := claims.ParseCategory(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownSelection, err)
	}
	if c.IsHousehold() {
		return "", fmt.Errorf("%w: %s is a household category", ErrInvalidTransition, c)
	}
	return m.openList(ctx, c), nil
}

func (m *Machine) openFromHousehold(ctx context.Context, ev Event) (State, error) {
	c, err := claims.ParseCategory(ev.(OpenCategory).Category)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownSelection, err)
	}
	if !c.IsHousehold() {
		return "", fmt.Errorf("%w: %s is not a household category", ErrInvalidTransition, c)
	}
	return m.openList(ctx, c), nil
}

func (m *Machine) openList(ctx context.Context, c claims.Category) State {
	keys, err := m.deps.Records.LoadCategory(ctx, m.client.ID, c)
	if err != nil {
		m.log.Error("record list load failed",
			zap.String("path", claims.CategoryPath(m.client.ID, c)), zap.Error(err))
		keys = []string{}
		m.message = MsgRecordsUnavailable
	}
	m.category = c
	m.records = keys
	m.modal = nil
	return ListState(c)
}

func (m *Machine) selectRecord(_ context.Context, ev Event) (State, error) {
	key := ev.(SelectRecord).Key
	if !slices.Contains(m.records, key) {
		return "", fmt.Errorf("%w: record %q", ErrUnknownSelection, key)
	}
	m.modal = &Modal{Key: key}
	return StateModal, nil
}

func (m *Machine) viewReport(ctx context.Context, _ Event) (State, error) {
	link, err := m.deps.Records.ViewReport(ctx, m.client.ID, m.category, m.modal.Key)
	m.setLink(link, err, claims.ErrNoReport, MsgNoReport)
	return StateModal, nil
}

func (m *Machine) downloadPhotos(ctx context.Context, _ Event) (State, error) {
	link, err := m.deps.Records.DownloadPhotos(ctx, m.client.ID, m.category, m.modal.Key)
	m.setLink(link, err, claims.ErrNoPhotos, MsgNoPhotos)
	return StateModal, nil
}

func (m *Machine) setLink(link string, err, missing error, notice string) {
	m.modal.Link, m.modal.Notice = "", ""
	switch {
	case err == nil:
		m.modal.Link = link
	case errors.Is(err, missing):
		m.modal.Notice = notice
	default:
		m.log.Error("record link failed",
			zap.String("path", claims.RecordPath(m.client.ID, m.category, m.modal.Key)), zap.Error(err))
		m.modal.Notice = MsgLinkUnavailable
	}
}

func (m *Machine) dismiss(_ context.Context, _ Event) (State, error) {
	m.modal = nil
	return ListState(m.category), nil
}

func (m *Machine) back(_ context.Context, _ Event) (State, error) {
	switch {
	case m.state == StateProfile:
		m.client = nil
		return StateClients, nil
	case m.state == StateHousehold:
		return StateProfile, nil
	case m.state.IsList():
		c := m.category
		m.category = ""
		m.records = nil
		if c.IsHousehold() {
			return StateHousehold, nil
		}
		return StateProfile, nil
	}
	return "", fmt.Errorf("%w: back from %s", ErrInvalidTransition, m.state)
}
