package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/octopus-digest/octopus-cache/internal/fetch"
	"github.com/octopus-digest/octopus-cache/internal/logging"
	"github.com/octopus-digest/octopus-cache/internal/server"
)

// 诊断响应头。
const (
	HeaderCache      = "X-Octopus-Cache"
	HeaderStrategy   = "X-Octopus-Strategy"
	HeaderGeneration = "X-Octopus-Generation"
)

// RequestObserver 记录每个请求的策略、来源与耗时。
type RequestObserver interface {
	ObserveRequest(strategy, source string, elapsed time.Duration)
}

// Handler 把 Fiber 请求转换为源站请求，交给 Interceptor 处理后写回响应。
type Handler struct {
	interceptor *Interceptor
	upstream    *url.URL
	logger      *logrus.Logger
	observer    RequestObserver
}

// NewHandler constructs a Fiber adapter around the interceptor.
func NewHandler(interceptor *Interceptor, upstream *url.URL, logger *logrus.Logger, observer RequestObserver) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		interceptor: interceptor,
		upstream:    upstream,
		logger:      logger,
		observer:    observer,
	}
}

// Handle 执行拦截并输出结构化日志；终态失败返回 502。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := h.buildUpstreamRequest(ctx, c)
	if err != nil {
		h.logger.WithError(err).WithField("request_id", requestID).Warn("bad_request")
		return h.writeError(c, fiber.StatusBadRequest, "bad_request")
	}

	result, err := h.interceptor.Intercept(ctx, req)
	h.setDiagnostics(c, result)
	h.logResult(c, req, result, requestID, started, err)
	if err != nil {
		if errors.Is(err, ErrNetworkFailed) {
			return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
		}
		return h.writeError(c, fiber.StatusBadRequest, "bad_request")
	}

	entry := result.Entry
	copyResponseHeaders(c, entry.Header)
	c.Status(entry.Status)
	if c.Method() == http.MethodHead {
		return nil
	}
	return c.Send(entry.Body)
}

func (h *Handler) buildUpstreamRequest(ctx context.Context, c fiber.Ctx) (*http.Request, error) {
	target := *h.upstream
	target.Path = joinPath(h.upstream.Path, string(c.Request().URI().Path()))
	target.RawPath = ""
	target.RawQuery = string(c.Request().URI().QueryString())
	target.Fragment = ""

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}

	fetch.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Header.Del(fiber.HeaderHost)
	req.Host = target.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	return req, nil
}

func (h *Handler) setDiagnostics(c fiber.Ctx, result *Result) {
	if result == nil {
		return
	}
	c.Set(HeaderStrategy, string(result.Strategy))
	if result.Generation != "" {
		c.Set(HeaderGeneration, result.Generation.String())
	}
	c.Set(HeaderCache, cacheStatus(result))
}

func cacheStatus(result *Result) string {
	switch {
	case result.Bypass:
		return "bypass"
	case result.Source == SourceCache:
		return "hit"
	case result.Source == SourceFallback:
		return "fallback"
	default:
		return "miss"
	}
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(c fiber.Ctx, req *http.Request, result *Result, requestID string, started time.Time, err error) {
	elapsed := time.Since(started)
	var class, strategy, source, generation string
	if result != nil {
		class = string(result.Class)
		strategy = string(result.Strategy)
		source = string(result.Source)
		generation = result.Generation.String()
	}
	if err != nil {
		source = "failed"
	}

	fields := logging.RequestFields(c.Method(), req.URL.Path, class, strategy, source, generation)
	fields["action"] = "proxy"
	fields["upstream"] = req.URL.String()
	fields["elapsed_ms"] = elapsed.Milliseconds()
	if result != nil && result.Entry != nil {
		fields["upstream_status"] = result.Entry.Status
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if h.observer != nil {
		h.observer.ObserveRequest(strategy, source, elapsed)
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func joinPath(base, requestPath string) string {
	if requestPath == "" {
		requestPath = "/"
	}
	return strings.TrimSuffix(base, "/") + requestPath
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if fetch.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
