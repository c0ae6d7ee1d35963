package statusapi

import (
	"bytes"
	"context"
	"net/http"

	"github.com/valyala/fasthttp"
)

// fastHTTPHandler wraps an http.Handler to serve over fasthttp, so a
// standard promhttp.Handler can be mounted on a fasthttp.Server without
// a second HTTP stack.
func fastHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		req := convertRequest(ctx)
		w := &fasthttpResponseWriter{ctx: ctx, header: make(http.Header)}
		h.ServeHTTP(w, req)
	}
}

func convertRequest(ctx *fasthttp.RequestCtx) *http.Request {
	bodyReader := bytes.NewReader(ctx.Request.Body())

	uri := ctx.Request.URI()
	scheme := "http"
	if ctx.IsTLS() {
		scheme = "https"
	}
	url := scheme + "://" + string(uri.Host()) + string(uri.Path())
	if len(uri.QueryString()) > 0 {
		url += "?" + string(uri.QueryString())
	}

	req, _ := http.NewRequestWithContext(context.Background(), string(ctx.Method()), url, bodyReader)

	ctx.Request.Header.VisitAll(func(key, value []byte) {
		req.Header.Add(string(key), string(value))
	})

	return req
}

type fasthttpResponseWriter struct {
	ctx           *fasthttp.RequestCtx
	header        http.Header
	headerWritten bool
}

func (w *fasthttpResponseWriter) Header() http.Header { return w.header }

func (w *fasthttpResponseWriter) WriteHeader(statusCode int) {
	if w.headerWritten {
		return
	}
	w.headerWritten = true
	w.ctx.SetStatusCode(statusCode)
	for key, values := range w.header {
		for _, value := range values {
			w.ctx.Response.Header.Add(key, value)
		}
	}
}

func (w *fasthttpResponseWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ctx.Write(b)
}
