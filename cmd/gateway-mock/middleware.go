package main

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	body   *bytes.Buffer
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.body.Write(b)
	return lrw.ResponseWriter.Write(b)
}

func (g *mockGateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var requestBody bytes.Buffer
		body, err := io.ReadAll(io.TeeReader(r.Body, &requestBody))
		if err != nil {
			g.logger.ErrorContext(r.Context(), "Error reading request body", "error", err)
		}
		r.Body = io.NopCloser(&requestBody)

		// the Authorization header carries the key secret
		g.logger.InfoContext(r.Context(), "Request", "method", r.Method, "path", r.URL.Path, "body", string(body))

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK, body: &bytes.Buffer{}}
		next.ServeHTTP(lrw, r)

		g.logger.InfoContext(r.Context(), "Response", "status", lrw.status, "body", lrw.body.String())
	})
}

var (
	countMu        sync.Mutex
	endpointCounts = make(map[string]int)
)

func (g *mockGateway) countMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		countMu.Lock()
		endpointCounts[r.URL.Path]++
		count := endpointCounts[r.URL.Path]
		countMu.Unlock()

		g.logger.DebugContext(r.Context(), "Endpoint called", "path", r.URL.Path, "count", count)
		next.ServeHTTP(w, r)
	})
}
