package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// RegisterHealthRoutes wires the liveness endpoint. Readiness is tied to the
// database: a relay that cannot persist messages should fall out of rotation.
func RegisterHealthRoutes(router *gin.Engine, database *sqlx.DB) {
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
