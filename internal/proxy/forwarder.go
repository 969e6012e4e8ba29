// Package proxy implements the gateway's default-route forwarding engine.
// Any request that does not match a management route is interpreted as
// /<api_name>/<version>/<rest>, resolved against the registered services,
// authorized against the caller's token audience, and streamed to the
// service's forward URL.
package proxy

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apigateway/apigateway/internal/auth"
	"github.com/apigateway/apigateway/internal/config"
	"github.com/apigateway/apigateway/internal/db/repositories"
	"github.com/apigateway/apigateway/internal/gwerrors"
	"github.com/apigateway/apigateway/internal/middleware"
	"github.com/apigateway/apigateway/internal/telemetry"
)

// hopByHopHeaders are connection-scoped and must not travel past the proxy,
// in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder resolves and proxies requests to upstream services.
type Forwarder struct {
	services *repositories.ServiceRepository
	client   *http.Client
	timeout  time.Duration
}

// NewForwarder creates a Forwarder with a shared upstream connection pool.
// The client carries no global timeout; each request is bounded by a
// per-request context deadline so slow upstreams cannot pin goroutines
// forever while fast ones are unaffected.
func NewForwarder(services *repositories.ServiceRepository, cfg config.ProxyConfig) *Forwarder {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Forwarder{
		services: services,
		client:   &http.Client{Transport: transport},
		timeout:  cfg.UpstreamTimeout,
	}
}

// splitForwardPath parses /<api_name>/<version>/<rest>. The rest may be
// empty ("/billing/v1/") but the first two segments must both be present and
// non-empty.
func splitForwardPath(path string) (apiName, version, rest string, ok bool) {
	segments := strings.SplitN(path, "/", 4)
	if len(segments) != 4 || segments[1] == "" || segments[2] == "" {
		return "", "", "", false
	}
	return segments[1], segments[2], segments[3], true
}

// Handle is the gin.NoRoute handler. It owns the full forwarding decision:
// parse, resolve, authorize, proxy.
func (f *Forwarder) Handle(c *gin.Context) {
	apiName, version, rest, ok := splitForwardPath(c.Request.URL.Path)
	if !ok {
		gwerrors.Abort(c, gwerrors.BadRequest("request path must be /<api_name>/<version>/<endpoint>"))
		return
	}

	service, err := f.services.GetActiveServiceWithRoles(c.Request.Context(), apiName, version)
	if err != nil {
		gwerrors.Abort(c, gwerrors.Database("resolve service", err))
		return
	}
	if service == nil {
		// Inactive and unregistered are indistinguishable on purpose.
		gwerrors.Abort(c, gwerrors.NotFound("service", apiName+"/"+version))
		return
	}

	token := middleware.BearerToken(c)
	if token == "" {
		telemetry.ForwardAuthorizationsTotal.WithLabelValues("unauthenticated").Inc()
		gwerrors.Abort(c, gwerrors.Unauthorized("missing bearer token"))
		return
	}
	claims, err := auth.ValidateJWT(token)
	if err != nil {
		telemetry.ForwardAuthorizationsTotal.WithLabelValues("unauthenticated").Inc()
		gwerrors.Abort(c, gwerrors.TokenDecode(err))
		return
	}
	if !auth.Authorize(service.Roles, claims.Audience) {
		telemetry.ForwardAuthorizationsTotal.WithLabelValues("denied").Inc()
		gwerrors.Abort(c, gwerrors.Forbidden("token does not authorize this service"))
		return
	}
	telemetry.ForwardAuthorizationsTotal.WithLabelValues("allowed").Inc()

	f.proxy(c, service.APIName+"/"+service.Version, service.ForwardURL, rest)
}

// proxy streams the request to the upstream and mirrors its response back.
func (f *Forwarder) proxy(c *gin.Context, serviceLabel, forwardURL, rest string) {
	target := forwardURL + "/" + rest
	if c.Request.URL.RawQuery != "" {
		target += "?" + c.Request.URL.RawQuery
	}

	// Derived from the inbound request context so a caller disconnect
	// cancels the upstream request and releases the backend connection.
	ctx, cancel := context.WithTimeout(c.Request.Context(), f.timeout)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(ctx, c.Request.Method, target, c.Request.Body)
	if err != nil {
		gwerrors.Abort(c, gwerrors.Internal("build upstream request", err))
		return
	}
	upstreamReq.ContentLength = c.Request.ContentLength

	copyHeaders(upstreamReq.Header, c.Request.Header)
	appendForwardingHeaders(upstreamReq.Header, c)

	slog.Debug("forwarding request",
		"service", serviceLabel,
		"method", c.Request.Method,
		"target", target,
	)

	start := time.Now()
	resp, err := f.client.Do(upstreamReq)
	telemetry.ForwardUpstreamDuration.WithLabelValues(serviceLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.ForwardedRequestsTotal.WithLabelValues(serviceLabel, "502").Inc()
		slog.Warn("upstream request failed", "service", serviceLabel, "error", err)
		gwerrors.Abort(c, gwerrors.BadGateway())
		return
	}
	defer resp.Body.Close()

	telemetry.ForwardedRequestsTotal.WithLabelValues(serviceLabel, strconv.Itoa(resp.StatusCode)).Inc()

	header := c.Writer.Header()
	for key, values := range resp.Header {
		if isHopByHop(key) {
			continue
		}
		for _, value := range values {
			header.Add(key, value)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		// Headers are already on the wire; all we can do is stop.
		slog.Warn("streaming upstream response failed", "service", serviceLabel, "error", err)
	}
}

// copyHeaders copies inbound headers to the upstream request, dropping Host
// and hop-by-hop headers.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if strings.EqualFold(key, "Host") || isHopByHop(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

// appendForwardingHeaders adds the standard proxy headers. Add, not Set:
// existing X-Forwarded-For chains from upstream proxies are preserved and
// extended.
func appendForwardingHeaders(header http.Header, c *gin.Context) {
	remoteIP := c.Request.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}

	proto := "http"
	if c.Request.TLS != nil {
		proto = "https"
	}

	header.Add("X-Real-IP", remoteIP)
	header.Add("X-Forwarded-For", remoteIP)
	header.Add("X-Forwarded-Proto", proto)
	header.Add("X-Forwarded-Host", c.Request.Host)

	// A caller-supplied X-Request-ID is already copied by copyHeaders; a
	// gateway-generated one lives only in the context and is injected here so
	// gateway and backend logs share one correlation key.
	if header.Get(middleware.RequestIDHeader) == "" {
		if id := middleware.RequestIDFromContext(c); id != "" {
			header.Set(middleware.RequestIDHeader, id)
		}
	}
}
