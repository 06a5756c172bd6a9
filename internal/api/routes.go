package api

import (
	"github.com/gin-gonic/gin"
	"github.com/siggame/gorena/internal/api/handlers"
	"github.com/siggame/gorena/internal/bracket"
	"github.com/siggame/gorena/internal/ws"
)

// SetupRoutes configures the scheduler's read-only status server
func SetupRoutes(router *gin.Engine, engine *bracket.Engine, hub *ws.Hub) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/bracket.dot", handlers.BracketDOT(engine))
	if hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			hub.Handle(c.Writer, c.Request)
		})
	}
}
