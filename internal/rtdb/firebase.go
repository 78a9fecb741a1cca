package rtdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// HTTPError is returned when the database REST endpoint answers with a non-2xx status.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("rtdb: http %d: %s", e.Status, e.Body)
}

// FirebaseConfig configures the REST client.
type FirebaseConfig struct {
	// BaseURL is the database root, e.g. https://project-default-rtdb.europe-west1.firebasedatabase.app
	BaseURL string
	// Secret is sent as the auth query parameter when set.
	Secret  string
	Timeout time.Duration
	// Client overrides the default fasthttp client (tests dial an in-memory listener).
	Client *fasthttp.Client
}

// Firebase talks to a hosted realtime database over its REST API.
type Firebase struct {
	base    string
	secret  string
	timeout time.Duration
	client  *fasthttp.Client
}

// NewFirebase builds a REST-backed Store.
func NewFirebase(cfg FirebaseConfig) *Firebase {
	c := cfg.Client
	if c == nil {
		c = &fasthttp.Client{
			Name:                   "claims-agent-portal",
			MaxConnsPerHost:        64,
			DisablePathNormalizing: true,
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Firebase{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		secret:  cfg.Secret,
		timeout: timeout,
		client:  c,
	}
}

// Get reads the subtree at path. A JSON null body means absent.
func (f *Firebase) Get(ctx context.Context, path string) (Snapshot, error) {
	segs, err := Split(path)
	if err != nil {
		return Snapshot{}, err
	}
	body, err := f.do(ctx, fasthttp.MethodGet, f.url(segs, nil), nil)
	if err != nil {
		return Snapshot{}, err
	}
	v, err := decode(body)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{key: lastSeg(segs), value: v}, nil
}

// Set PUTs value at path, or DELETEs when value is nil.
func (f *Firebase) Set(ctx context.Context, path string, value any) error {
	segs, err := Split(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return fmt.Errorf("%w: cannot set root", ErrInvalidPath)
	}
	if value == nil {
		_, err = f.do(ctx, fasthttp.MethodDelete, f.url(segs, nil), nil)
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("rtdb: encode value: %w", err)
	}
	_, err = f.do(ctx, fasthttp.MethodPut, f.url(segs, nil), b)
	return err
}

// QueryByField uses the orderBy/equalTo filter. The database needs an
// index on field for this to work outside of test mode.
func (f *Firebase) QueryByField(ctx context.Context, collection, field string, equals any) (Snapshot, error) {
	segs, err := Split(collection)
	if err != nil {
		return Snapshot{}, err
	}
	orderBy, err := json.Marshal(field)
	if err != nil {
		return Snapshot{}, err
	}
	equalTo, err := json.Marshal(equals)
	if err != nil {
		return Snapshot{}, fmt.Errorf("rtdb: encode query value: %w", err)
	}
	q := url.Values{}
	q.Set("orderBy", string(orderBy))
	q.Set("equalTo", string(equalTo))

	body, err := f.do(ctx, fasthttp.MethodGet, f.url(segs, q), nil)
	if err != nil {
		return Snapshot{}, err
	}
	v, err := decode(body)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{key: lastSeg(segs), value: v}, nil
}

func (f *Firebase) url(segs []string, q url.Values) string {
	var b strings.Builder
	b.WriteString(f.base)
	b.WriteByte('/')
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(url.PathEscape(s))
	}
	b.WriteString(".json")
	if f.secret != "" {
		if q == nil {
			q = url.Values{}
		}
		q.Set("auth", f.secret)
	}
	if len(q) > 0 {
		b.WriteByte('?')
		b.WriteString(q.Encode())
	}
	return b.String()
}

func (f *Firebase) do(ctx context.Context, method, uri string, body []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	var err error
	if dl, ok := ctx.Deadline(); ok {
		err = f.client.DoDeadline(req, resp, dl)
	} else {
		err = f.client.DoTimeout(req, resp, f.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("rtdb: %s %s: %w", method, redact(uri), err)
	}

	status := resp.StatusCode()
	out := append([]byte(nil), resp.Body()...)
	if status < 200 || status >= 300 {
		return nil, &HTTPError{Status: status, Body: strings.TrimSpace(string(out))}
	}
	return out, nil
}

func decode(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("rtdb: decode response: %w", err)
	}
	return prune(v), nil
}

func lastSeg(segs []string) string {
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// redact drops the query string so the auth secret never ends up in logs.
func redact(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}
