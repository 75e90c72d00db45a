// Package router wires the asset server's single HTTP endpoint together
// with its middleware stack.
package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-processor/internal/api/handler"
	"github.com/aliskhannn/image-processor/internal/api/middleware"
	"github.com/aliskhannn/image-processor/internal/api/respond"
)

// Setup builds the engine that serves the upload endpoint.
func Setup(h *handler.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.NoRoute(func(c *ginext.Context) {
		respond.Fail(c, http.StatusNotFound, respond.ErrNotFound)
	})
	r.NoMethod(func(c *ginext.Context) {
		respond.Fail(c, http.StatusMethodNotAllowed, respond.ErrMethodNotAllowed)
	})

	api := r.Group("/api")
	api.POST("/upload", h.Upload)

	return r
}
