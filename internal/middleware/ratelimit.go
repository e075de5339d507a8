package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kevinms/leakybucket-go"
)

// RateLimit admits at most burst requests at once per client IP, refilled at
// perSecond. A non-positive rate disables the limit.
func RateLimit(perSecond, burst int) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = perSecond
	}
	limiter := leakybucket.NewCollector(float64(perSecond), int64(burst), true)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		remaining := limiter.Remaining(ip)
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if remaining <= 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		limiter.Add(ip, 1)
		c.Next()
	}
}
