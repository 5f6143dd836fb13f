package model

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Endpoint identifies one entry of the fixed internal endpoint set.
type Endpoint struct {
	ID       string
	Path     string
	AuthKind EndpointAuthKind
	// RequiredPermission gates the endpoint; empty admits any
	// authenticated caller.
	RequiredPermission string
}

// EndpointAuthKind classifies endpoints for the brute-force guard, which only
// watches authentication-class endpoints.
type EndpointAuthKind string

const (
	EndpointAuthNone  EndpointAuthKind = "none"
	EndpointAuthLogin EndpointAuthKind = "auth"
)

// IsAuthEndpoint reports whether failed credentials against this endpoint
// count toward the brute-force guard.
func (e Endpoint) IsAuthEndpoint() bool {
	return e.AuthKind == EndpointAuthLogin
}

// RequestInfo is the transport-agnostic view of an inbound request that the
// gateway pipeline operates on.
type RequestInfo struct {
	Method     string
	Path       string
	RawQuery   string
	Headers    http.Header
	Body       []byte
	RemoteAddr string
}

// FromHTTP builds a RequestInfo from an *http.Request. The body must already
// have been read by the caller; gin buffers it for us.
func FromHTTP(r *http.Request, body []byte) *RequestInfo {
	return &RequestInfo{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Headers:    r.Header,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
	}
}

// ClientIP resolves the originating client address, preferring proxy headers
// over the socket peer.
func (r *RequestInfo) ClientIP() string {
	if xff := r.Headers.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Headers.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// UserAgent returns the request's User-Agent header.
func (r *RequestInfo) UserAgent() string {
	return r.Headers.Get("User-Agent")
}

// Principal is a resolved caller identity.
type Principal struct {
	// Key is non-nil when the caller authenticated with an API key.
	Key *APIKey
	// UserID is set when the caller authenticated with a bearer token.
	UserID      string
	Permissions []string
}

// LimitKey derives the rate-limiter identity for the principal.
func (p *Principal) LimitKey() string {
	if p == nil {
		return ""
	}
	if p.Key != nil {
		return "key:" + p.Key.ID
	}
	if p.UserID != "" {
		return "user:" + p.UserID
	}
	return ""
}

// RequestContext is the per-request state handed to downstream handlers.
// It is created at request entry and discarded with the response.
type RequestContext struct {
	RequestID string
	Principal *Principal
	RateLimit RateLimitSnapshot
	Endpoint  Endpoint
	Method    string
	StartedAt time.Time
}

// RateLimitSnapshot is the limiter outcome attached to a request context and
// echoed in the X-RateLimit-* response headers.
type RateLimitSnapshot struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Response is the gateway's transport-agnostic reply.
type Response struct {
	Status  int
	Headers http.Header
	Body    interface{}
}

// ErrorBody is the JSON error envelope returned for every non-2xx gateway
// response.
type ErrorBody struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"requestId"`
}

// ErrorDetail carries the machine-readable error code ("E<status>") and a
// caller-safe message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
