package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/pos-register/api/responses"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

// WindowLimiter counts hits per scope inside a fixed window.
type WindowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// PINRateLimitPolicy bounds manager PIN attempts per client and per company.
type PINRateLimitPolicy struct {
	window       time.Duration
	ipLimit      int
	companyLimit int
}

func NewPINRateLimitPolicy(window time.Duration, ipLimit, companyLimit int) PINRateLimitPolicy {
	return PINRateLimitPolicy{window: window, ipLimit: ipLimit, companyLimit: companyLimit}
}

func (p PINRateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.companyLimit > 0)
}

// pinBucket is one counter an attempt is charged against.
type pinBucket struct {
	scope   string
	subject string
	limit   int
}

func (b pinBucket) key() string { return "pin:" + b.scope + ":" + b.subject }

// PINRateLimit throttles approval requests before the PIN is checked. The
// company bucket needs the body, which is buffered and handed on intact.
func PINRateLimit(policy PINRateLimitPolicy, limiter WindowLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			buckets, err := policy.buckets(r)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			for _, b := range buckets {
				allowed, count, err := limiter.FixedWindowAllow(ctx, b.key(), int64(b.limit), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if !allowed {
					policy.reject(ctx, logg, w, b, count)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (p PINRateLimitPolicy) buckets(r *http.Request) ([]pinBucket, error) {
	var out []pinBucket
	if ip := clientIP(r); p.ipLimit > 0 && ip != "" {
		out = append(out, pinBucket{scope: "ip", subject: ip, limit: p.ipLimit})
	}
	if p.companyLimit <= 0 {
		return out, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if company := companyFromBody(body); company != "" {
		out = append(out, pinBucket{scope: "company", subject: company, limit: p.companyLimit})
	}
	return out, nil
}

func (p PINRateLimitPolicy) reject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, b pinBucket, count int64) {
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"scope":    b.scope,
			"subject":  b.subject,
			"attempts": count,
			"limit":    b.limit,
		}), "approval.rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(p.window.Seconds())))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many manager pin attempts"))
}

// clientIP prefers the first forwarded hop, then X-Real-IP, then the peer.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func companyFromBody(payload []byte) string {
	var body struct {
		CompanyKey string `json:"company_key"`
	}
	if json.Unmarshal(payload, &body) != nil {
		return ""
	}
	return strings.TrimSpace(body.CompanyKey)
}
