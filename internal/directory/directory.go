// Package directory builds an agent's client list.
package directory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/kylejryan/claims-agent-portal/internal/rtdb"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// RosterRoot holds one child per client under each agent code.
const RosterRoot = "clientsForAgent"

const defaultFanout = 16

// Client is one row of the directory.
type Client struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Result separates the clients that loaded from those that did not.
type Result struct {
	Clients []Client
	// Failed maps client ids to the error their read returned.
	Failed map[string]error
}

// Builder loads client rosters.
type Builder struct {
	store  rtdb.Store
	fanout int
	lang   language.Tag
}

// New builds a Builder. fanout caps concurrent child reads; locale picks
// the collation order, falling back to German when it does not parse.
func New(store rtdb.Store, fanout int, locale string) *Builder {
	if fanout <= 0 {
		fanout = defaultFanout
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.German
	}
	return &Builder{store: store, fanout: fanout, lang: tag}
}

// Load reads the roster of agentCode and every roster entry in
// parallel. Entries without a name are dropped. A failing entry is
// recorded in Result.Failed and does not stop the others; the error
// return is reserved for the roster read itself.
func (b *Builder) Load(ctx context.Context, agentCode string) (Result, error) {
	root := rtdb.Join(RosterRoot, agentCode)
	roster, err := b.store.Get(ctx, root)
	if err != nil {
		return Result{}, fmt.Errorf("load %s: %w", root, err)
	}
	ids := roster.Keys()

	var (
		mu     sync.Mutex
		loaded = make([]*Client, len(ids))
		failed = map[string]error{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.fanout)
	for i, id := range ids {
		g.Go(func() error {
			snap, err := b.store.Get(gctx, rtdb.Join(root, id))
			if err != nil {
				mu.Lock()
				failed[id] = err
				mu.Unlock()
				return nil
			}
			name, ok := snap.Child("name").String()
			if !ok || strings.TrimSpace(name) == "" {
				return nil
			}
			loaded[i] = &Client{ID: id, Name: name}
			return nil
		})
	}
	_ = g.Wait()

	clients := make([]Client, 0, len(ids))
	for _, c := range loaded {
		if c != nil {
			clients = append(clients, *c)
		}
	}
	b.sort(clients)

	res := Result{Clients: clients}
	if len(failed) > 0 {
		res.Failed = failed
	}
	return res, nil
}

// sort orders clients by name under the configured collation. The sort
// is stable, so equal names keep roster order.
func (b *Builder) sort(clients []Client) {
	col := collate.New(b.lang)
	slices.SortStableFunc(clients, func(x, y Client) int {
		return col.CompareString(x.Name, y.Name)
	})
}
