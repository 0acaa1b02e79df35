package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/metrics"
)

// skippedRequestHeaders are not forwarded to the live origin. Accept-Encoding is
// left to the transport so bodies are recorded decompressed.
var skippedRequestHeaders = map[string]struct{}{
	"accept-encoding":     {},
	"connection":          {},
	"content-length":      {},
	"host":                {},
	"keep-alive":          {},
	"proxy-authorization": {},
	"proxy-connection":    {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// skippedResponseHeaders are not kept from live answers.
var skippedResponseHeaders = map[string]struct{}{
	"connection":        {},
	"content-length":    {},
	"keep-alive":        {},
	"transfer-encoding": {},
}

// forward sends req to the live origin. Failures are logged and answered with
// a zero status carrying whatever body was read.
func (e *Engine) forward(ctx context.Context, domain string, req Request) (Response, time.Duration) {
	res := Response{Source: SourceLive}
	fields := []zap.Field{
		zap.String("mock_domain", domain),
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
	}

	liveReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bytes.NewReader(req.Body))
	if err != nil {
		e.logger.Error("error in creating the live request", append(fields, zap.Error(err))...)
		return res, 0
	}
	for k, v := range req.Headers {
		if _, skip := skippedRequestHeaders[strings.ToLower(k)]; skip {
			continue
		}
		liveReq.Header.Set(k, v)
	}
	if err := e.deps.Plugins.UpdateLiveRequest(domain, liveReq); err != nil {
		e.logger.Error("error in updating the live request", append(fields, zap.Error(err))...)
		return res, 0
	}

	start := time.Now()
	t := prometheus.NewTimer(metrics.HTTPReqDuration.WithLabelValues(req.Method, string(SourceLive), domain))
	liveRes, err := e.deps.Client.Do(liveReq)
	t.ObserveDuration()
	if err != nil {
		e.logger.Warn("error in doing the live request", append(fields, zap.Error(err))...)
		return res, time.Since(start)
	}
	defer func() { _ = liveRes.Body.Close() }()

	res.Headers = flattenHeader(liveRes.Header)
	body, err := io.ReadAll(liveRes.Body)
	res.Body = body
	if err != nil {
		e.logger.Warn("error in reading the live response", append(fields, zap.Error(err))...)
		return res, time.Since(start)
	}

	res.Status = liveRes.StatusCode
	return res, time.Since(start)
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, values := range h {
		if _, skip := skippedResponseHeaders[strings.ToLower(k)]; skip {
			continue
		}
		out[k] = strings.Join(values, ", ")
	}
	return out
}
