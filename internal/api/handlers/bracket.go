package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/siggame/gorena/internal/bracket"
)

// BracketDOT serves the current bracket as a Graphviz digraph
func BracketDOT(engine *bracket.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "text/vnd.graphviz; charset=utf-8", []byte(engine.DOT()))
	}
}
