package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/chargeflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/chargeflow/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	rateLimitReasonCustomerRate     = "customer-rate"
	rateLimitReasonPurchaseInFlight = "purchase-in-flight"
)

type sdrRateLimitKey struct {
	Customer string `json:"customer"`
}

// SDRRateLimit throttles usage records per customer and lets one inclusion
// per purchase run at a time across replicas. It is a no-op without redis.
func (s *Server) SDRRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.sdrLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		customer, err := readSDRCustomer(c)
		if err != nil {
			logger.FromContext(ctx).Warn("sdr rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		if customer != "" {
			res, err := s.sdrLimiter.AllowCustomer(ctx, customer)
			if err != nil {
				logger.FromContext(ctx).Warn("sdr customer rate limit check failed", zap.Error(err))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !res.Allowed {
				retryAfter := int(res.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				c.Header("Retry-After", strconv.Itoa(retryAfter))
				denySDRRateLimit(c, endpoint, customer, rateLimitReasonCustomerRate, s.obsMetrics)
				return
			}
		}

		purchaseID := strings.TrimSpace(c.Param("id"))
		lease, locked, err := s.sdrLimiter.LockPurchase(ctx, purchaseID)
		if err != nil {
			logger.FromContext(ctx).Warn("sdr purchase lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !locked {
			c.Header("Retry-After", "1")
			denySDRRateLimit(c, endpoint, customer, rateLimitReasonPurchaseInFlight, s.obsMetrics)
			return
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.FromContext(ctx).Warn("sdr purchase unlock failed", zap.Error(err))
			}
		}()

		recordRateLimitAllowed(ctx, endpoint, customer, s.obsMetrics)
		c.Next()
	}
}

func denySDRRateLimit(c *gin.Context, endpoint, customer, reason string, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("sdr rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, customer, reason, metrics)

	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint, customer string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, customer, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, customer, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, customer, endpoint, reason)
}

func readSDRCustomer(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload sdrRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.Customer), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
