package statusapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/cascadeflow/cascadeflow/internal/manager"
	"github.com/cascadeflow/cascadeflow/internal/store"
	"github.com/cascadeflow/cascadeflow/internal/telemetry"
)

type noopStore struct{}

func (noopStore) Exists(_ context.Context, _ string, _ string) (bool, error) { return false, nil }
func (noopStore) Store(_ context.Context, _ string, _ *store.Message) error  { return nil }
func (noopStore) Get(_ context.Context, _ string) (*store.Message, error)    { return nil, store.ErrNotFound }
func (noopStore) ListMessages(_ context.Context, _ string) ([]*store.Message, error) {
	return nil, nil
}
func (noopStore) ListStreams(_ context.Context) ([]string, error) { return nil, nil }
func (noopStore) Close() error                                   { return nil }

func newStatusTestServer() *Server {
	mgr := manager.New(noopStore{})
	mtr := telemetry.New()
	return New("widgets", mgr, mtr)
}

func newRequestCtx(path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	var req fasthttp.Request
	req.SetRequestURI(path)
	ctx.Init(&req, nil, nil)
	return &ctx
}

func TestServer_HealthzReportsProjectName(t *testing.T) {
	s := newStatusTestServer()
	ctx := newRequestCtx("/healthz")
	s.route(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "widgets")
}

func TestServer_StatsReportsManagerSnapshot(t *testing.T) {
	s := newStatusTestServer()
	ctx := newRequestCtx("/stats")
	s.route(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "RegisteredWorkers")
}

func TestServer_UnknownPathIs404(t *testing.T) {
	s := newStatusTestServer()
	ctx := newRequestCtx("/nope")
	s.route(ctx)

	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}
