package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kylejryan/claims-agent-portal/internal/rtdb"
	"github.com/kylejryan/claims-agent-portal/internal/s3io"
)

var (
	// ErrNoReport is returned when a record has no report document.
	ErrNoReport = errors.New("no report available")
	// ErrNoPhotos is returned when a record has no photo bundle.
	ErrNoPhotos = errors.New("no photos available")
)

// Browser reads damage records for a client.
type Browser struct {
	store  rtdb.Store
	linker *s3io.Linker
}

// NewBrowser builds a Browser. linker may be nil, in which case stored
// links are returned as they are.
func NewBrowser(store rtdb.Store, linker *s3io.Linker) *Browser {
	return &Browser{store: store, linker: linker}
}

// LoadCategory returns the record keys of one category, newest first.
func (b *Browser) LoadCategory(ctx context.Context, clientID string, c Category) ([]string, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown claim category %q", c)
	}
	path := CategoryPath(clientID, c)
	snap, err := b.store.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	keys := snap.Keys()
	if keys == nil {
		keys = []string{}
	}
	SortKeys(keys)
	return keys, nil
}

// ViewReport returns a link to the record's report document.
func (b *Browser) ViewReport(ctx context.Context, clientID string, c Category, key string) (string, error) {
	return b.link(ctx, RecordPath(clientID, c, key), fieldReport, ErrNoReport)
}

// DownloadPhotos returns a link to the record's photo bundle.
func (b *Browser) DownloadPhotos(ctx context.Context, clientID string, c Category, key string) (string, error) {
	return b.link(ctx, RecordPath(clientID, c, key), fieldPhotos, ErrNoPhotos)
}

func (b *Browser) link(ctx context.Context, recordPath, field string, missing error) (string, error) {
	path := rtdb.Join(recordPath, field)
	snap, err := b.store.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	raw, ok := snap.String()
	if !ok || strings.TrimSpace(raw) == "" {
		return "", missing
	}
	return b.linker.Link(ctx, raw)
}
