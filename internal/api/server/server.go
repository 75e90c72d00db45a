// Package server assembles the *http.Server that fronts the router.
package server

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

// New builds the server. ReadTimeout and WriteTimeout are intentionally
// generous: the per-upload processing and socket-kill deadlines, not
// these, are what bound a slow client's connection lifetime.
func New(addr string, router *ginext.Engine) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
