package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/escrow"
	gometrics "github.com/rcrowley/go-metrics"
)

var startTime = time.Now()

const version = "1.0.0"

// HealthCheck returns server health status
func HealthCheck(led *escrow.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if _, err := led.GameIndex(c.Request.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": "escrow-ledger",
			"version": version,
			"uptime":  time.Since(startTime).String(),
		})
	}
}

// Metrics dumps the metrics registry as JSON.
func Metrics(r gometrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		gometrics.WriteJSONOnce(r, &buf)
		c.Data(http.StatusOK, "application/json", buf.Bytes())
	}
}
