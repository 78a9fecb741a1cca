// Package seed loads development data into a store and the local user table.
package seed

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/kylejryan/claims-agent-portal/internal/auth"
	"github.com/kylejryan/claims-agent-portal/internal/rtdb"

	"gopkg.in/yaml.v3"
)

// User is a sign-in account for the memory auth provider.
type User struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	UID      string `yaml:"uid"`
}

// File is the seed document: a store tree plus accounts.
type File struct {
	Store map[string]any `yaml:"store"`
	Users []User         `yaml:"users"`
}

// Parse decodes a seed document.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("failed to parse seed: %w", err)
	}
	for k, v := range f.Store {
		f.Store[k] = stringKeys(v)
	}
	return f, nil
}

// Load reads path and applies it.
func Load(ctx context.Context, path string, store rtdb.Store, users *auth.Memory) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return err
	}
	return Apply(ctx, f, store, users)
}

// Apply writes each top-level collection of the tree and registers the
// users. users may be nil when accounts live elsewhere.
func Apply(ctx context.Context, f File, store rtdb.Store, users *auth.Memory) error {
	roots := make([]string, 0, len(f.Store))
	for k := range f.Store {
		roots = append(roots, k)
	}
	sort.Strings(roots)
	for _, k := range roots {
		if err := store.Set(ctx, k, f.Store[k]); err != nil {
			return fmt.Errorf("seed %s: %w", k, err)
		}
	}
	if users == nil {
		return nil
	}
	for _, u := range f.Users {
		if err := users.AddUser(u.Email, u.Password, u.UID); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	return nil
}

// stringKeys rewrites maps with non-string keys, such as agent codes
// written as bare numbers, into string-keyed maps.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, c := range t {
			t[k] = stringKeys(c)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[fmt.Sprint(k)] = stringKeys(c)
		}
		return out
	case []any:
		for i, c := range t {
			t[i] = stringKeys(c)
		}
		return t
	default:
		return v
	}
}
