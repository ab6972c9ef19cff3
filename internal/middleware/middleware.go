// Package middleware HTTP中间件
// 访问日志带上会话、链和代币对，便于把一次请求和后台抓取对应起来
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"swapr-dapp/trades-service/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	slowRequestThreshold = time.Second      // 慢请求阈值
	limiterIdleTimeout   = 10 * time.Minute // 客户端限流器闲置回收时间
	limiterSweepEvery    = 1024             // 每N次请求清理一次闲置限流器
)

// ========================================
// 请求ID
// ========================================

// RequestID 生成或透传请求ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(types.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(types.ContextKeyRequestID, requestID)
		c.Header(types.HeaderRequestID, requestID)

		c.Next()
	}
}

// requestFields 请求的公共日志字段
// 会话、链和代币对只有处理器写入上下文后才出现
func requestFields(c *gin.Context) logrus.Fields {
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}

	fields := logrus.Fields{
		"request_id": c.GetString(types.ContextKeyRequestID),
		"method":     c.Request.Method,
		"route":      route,
	}
	if sessionID := c.GetString(types.ContextKeySessionID); sessionID != "" {
		fields["session_id"] = sessionID
	}
	if value, ok := c.Get(types.ContextKeyChainID); ok {
		if chainID, ok := value.(types.ChainID); ok && chainID != 0 {
			fields["chain"] = chainID.String()
		}
	}
	if pairKey := c.GetString(types.ContextKeyPairKey); pairKey != "" {
		fields["pair_key"] = pairKey
	}
	return fields
}

// ========================================
// 访问日志
// ========================================

// RequestLogger 访问日志，4xx记为Warn，5xx记为Error
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		duration := time.Since(startTime)
		statusCode := c.Writer.Status()

		fields := requestFields(c)
		entry := logger.WithFields(fields).WithFields(logrus.Fields{
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
			"client_ip":   c.ClientIP(),
		})

		level := logrus.InfoLevel
		switch {
		case statusCode >= 500:
			level = logrus.ErrorLevel
		case statusCode >= 400:
			level = logrus.WarnLevel
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		entry.Log(level, fmt.Sprintf("🌐 %s %s -> %d", c.Request.Method, fields["route"], statusCode))

		if duration > slowRequestThreshold {
			entry.Warnf("🐢 慢请求: %v", duration)
		}
	}
}

// ========================================
// 限流
// ========================================

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端IP限流，闲置的限流器定期回收
type RateLimiter struct {
	config   *types.RateLimitConfig
	logger   *logrus.Logger
	mutex    sync.Mutex
	clients  map[string]*clientLimiter
	requests int
}

// NewRateLimiter 创建限流中间件
func NewRateLimiter(config *types.RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		config:  config,
		logger:  logger,
		clients: make(map[string]*clientLimiter),
	}
}

// RateLimit 超出配额时返回429
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled || rl.allow(c.ClientIP(), time.Now()) {
			c.Next()
			return
		}

		rl.logger.WithFields(requestFields(c)).WithField("client_ip", c.ClientIP()).Warn("🚦 请求被限流")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, types.APIResponse{
			Success: false,
			Error: &types.APIError{
				Code:    types.ErrCodeRateLimitExceeded,
				Message: "请求频率过高，请稍后再试",
			},
			Timestamp: time.Now().Unix(),
			RequestID: c.GetString(types.ContextKeyRequestID),
		})
	}
}

func (rl *RateLimiter) allow(ip string, now time.Time) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.requests++
	if rl.requests%limiterSweepEvery == 0 {
		for key, client := range rl.clients {
			if now.Sub(client.lastSeen) > limiterIdleTimeout {
				delete(rl.clients, key)
			}
		}
	}

	client, exists := rl.clients[ip]
	if !exists {
		burst := rl.config.Burst
		if burst < 1 {
			burst = 1
		}
		client = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), burst)}
		rl.clients[ip] = client
	}
	client.lastSeen = now

	return client.limiter.AllowN(now, 1)
}

// trackedClients 当前跟踪的客户端数量
func (rl *RateLimiter) trackedClients() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.clients)
}

// ========================================
// 安全头
// ========================================

// Security 安全响应头，API响应禁止缓存
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")

		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		}

		c.Next()
	}
}

// ========================================
// 恢复
// ========================================

// Recovery 捕获panic并返回统一错误响应
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.WithFields(requestFields(c)).WithField("panic", recovered).Error("💥 请求处理发生panic")

				c.AbortWithStatusJSON(http.StatusInternalServerError, types.APIResponse{
					Success: false,
					Error: &types.APIError{
						Code:    types.ErrCodeInternalError,
						Message: "服务内部错误",
					},
					Timestamp: time.Now().Unix(),
					RequestID: c.GetString(types.ContextKeyRequestID),
				})
			}
		}()

		c.Next()
	}
}
