package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gometrics "github.com/rcrowley/go-metrics"
)

// Metrics times every request per route and counts responses per status class.
func Metrics(r gometrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		gometrics.GetOrRegisterTimer("http."+c.Request.Method+" "+route, r).UpdateSince(start)
		gometrics.GetOrRegisterCounter("http.status."+strconv.Itoa(c.Writer.Status()/100)+"xx", r).Inc(1)
	}
}
