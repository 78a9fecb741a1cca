// Package codegen hands out four-digit agent codes that are not yet taken.
package codegen

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"

	"github.com/kylejryan/claims-agent-portal/internal/rtdb"

	"go.uber.org/zap"
)

// Keyspace bounds. Codes are the decimal strings "1000" through "9999".
const (
	MinCode = 1000
	MaxCode = 9999
	// Keyspace is the number of distinct codes.
	Keyspace = MaxCode - MinCode + 1
)

// AgentsRoot is the collection agent records are written to.
const AgentsRoot = "Agents"

// ErrCodespaceExhausted is returned when every candidate within the attempt budget is taken.
var ErrCodespaceExhausted = errors.New("codegen: no free agent code")

// Generator draws codes without repeating a candidate, so it checks
// each code at most once and always terminates.
type Generator struct {
	store       rtdb.Store
	log         *zap.Logger
	maxAttempts int
	rand        *rand.Rand
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxAttempts caps the number of store lookups. Values outside
// 1..Keyspace fall back to Keyspace.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 && n <= Keyspace {
			g.maxAttempts = n
		}
	}
}

// WithRand replaces the random source; tests use a seeded one.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rand = r }
}

// New builds a Generator over store.
func New(store rtdb.Store, log *zap.Logger, opts ...Option) *Generator {
	g := &Generator{
		store:       store,
		log:         log,
		maxAttempts: Keyspace,
		rand:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate returns a code with nothing stored at Agents/{code}.
//
// Candidates come from a lazy Fisher-Yates shuffle of the keyspace: each
// draw is uniform over the codes not tried yet. A failed lookup is
// logged and skipped; it still uses up one attempt. The check and the
// caller's later write are not atomic.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	perm := make([]int, Keyspace)
	for i := range perm {
		perm[i] = MinCode + i
	}

	for i := 0; i < g.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		j := i + g.rand.IntN(Keyspace-i)
		perm[i], perm[j] = perm[j], perm[i]
		code := strconv.Itoa(perm[i])

		snap, err := g.store.Get(ctx, rtdb.Join(AgentsRoot, code))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			g.log.Warn("agent code lookup failed, trying another",
				zap.String("code", code), zap.Error(err))
			continue
		}
		if !snap.Exists() {
			return code, nil
		}
		g.log.Debug("agent code taken", zap.String("code", code))
	}
	return "", ErrCodespaceExhausted
}
