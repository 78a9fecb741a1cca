package rtdb

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type recorded struct {
	Method string
	Path   string
	Query  map[string]string
	Body   string
}

type fakeRTDB struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	body     string
}

func (f *fakeRTDB) handle(ctx *fasthttp.RequestCtx) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := map[string]string{}
	ctx.QueryArgs().VisitAll(func(k, v []byte) { q[string(k)] = string(v) })
	f.requests = append(f.requests, recorded{
		Method: string(ctx.Method()),
		Path:   strings.SplitN(string(ctx.Request.Header.RequestURI()), "?", 2)[0],
		Query:  q,
		Body:   string(ctx.PostBody()),
	})
	ctx.SetStatusCode(f.status)
	ctx.SetBodyString(f.body)
}

func (f *fakeRTDB) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newFirebaseForTest(t *testing.T, fake *fakeRTDB, secret string) *Firebase {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: fake.handle, DisablePreParseMultipartForm: true}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	client := &fasthttp.Client{
		Dial:                   func(string) (net.Conn, error) { return ln.Dial() },
		DisablePathNormalizing: true,
	}
	return NewFirebase(FirebaseConfig{
		BaseURL: "http://rtdb.test/",
		Secret:  secret,
		Timeout: 2 * time.Second,
		Client:  client,
	})
}

func TestFirebase_Get(t *testing.T) {
	fake := &fakeRTDB{status: 200, body: `{"name":"Alice","phoneNumber":"0151","email":"a@x.de"}`}
	fb := newFirebaseForTest(t, fake, "")

	snap, err := fb.Get(context.Background(), "Users/u1")
	require.NoError(t, err)
	assert.True(t, snap.Exists())
	assert.Equal(t, "u1", snap.Key())
	name, _ := snap.Child("name").String()
	assert.Equal(t, "Alice", name)

	req := fake.last()
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/Users/u1.json", req.Path)
}

func TestFirebase_GetNull(t *testing.T) {
	fake := &fakeRTDB{status: 200, body: `null`}
	fb := newFirebaseForTest(t, fake, "")

	snap, err := fb.Get(context.Background(), "AgentProfile/uid/agentID")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestFirebase_EscapesSegments(t *testing.T) {
	fake := &fakeRTDB{status: 200, body: `null`}
	fb := newFirebaseForTest(t, fake, "")

	_, err := fb.Get(context.Background(), "Users/u1/kfzSchäden/Unfall 05-03-2024")
	require.NoError(t, err)
	assert.Equal(t, "/Users/u1/kfzSch%C3%A4den/Unfall%2005-03-2024.json", fake.last().Path)
}

func TestFirebase_SetSendsPutWithSecret(t *testing.T) {
	fake := &fakeRTDB{status: 200, body: `{"name":"Eva"}`}
	fb := newFirebaseForTest(t, fake, "s3cret")

	err := fb.Set(context.Background(), "Agents/1234", map[string]any{"name": "Eva"})
	require.NoError(t, err)

	req := fake.last()
	assert.Equal(t, "PUT", req.Method)
	assert.Equal(t, "/Agents/1234.json", req.Path)
	assert.Equal(t, "s3cret", req.Query["auth"])
	assert.JSONEq(t, `{"name":"Eva"}`, req.Body)
}

func TestFirebase_SetNilDeletes(t *testing.T) {
	fake := &fakeRTDB{status: 200, body: `null`}
	fb := newFirebaseForTest(t, fake, "")

	require.NoError(t, fb.Set(context.Background(), "Agents/1234", nil))
	assert.Equal(t, "DELETE", fake.last().Method)
}

func TestFirebase_QueryByField(t *testing.T) {
	fake := &fakeRTDB{status: 200, body: `{"5678":{"email":"b@x.de"}}`}
	fb := newFirebaseForTest(t, fake, "")

	snap, err := fb.QueryByField(context.Background(), "Agents", "email", "b@x.de")
	require.NoError(t, err)
	assert.Equal(t, []string{"5678"}, snap.Keys())

	req := fake.last()
	assert.Equal(t, `"email"`, req.Query["orderBy"])
	assert.Equal(t, `"b@x.de"`, req.Query["equalTo"])
}

func TestFirebase_HTTPError(t *testing.T) {
	fake := &fakeRTDB{status: 401, body: `{"error":"Permission denied"}`}
	fb := newFirebaseForTest(t, fake, "")

	_, err := fb.Get(context.Background(), "Users")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 401, httpErr.Status)
	assert.Contains(t, httpErr.Body, "Permission denied")
}

func TestFirebase_InvalidPath(t *testing.T) {
	fb := NewFirebase(FirebaseConfig{BaseURL: "http://rtdb.test"})
	_, err := fb.Get(context.Background(), "Users/a$b")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "http://rtdb.test/a.json", redact("http://rtdb.test/a.json?auth=secret"))
}
