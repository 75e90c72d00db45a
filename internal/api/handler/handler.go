// Package handler implements the asset server's single HTTP endpoint:
// POST /api/upload.
package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-processor/internal/api/respond"
	"github.com/aliskhannn/image-processor/internal/config"
	"github.com/aliskhannn/image-processor/internal/imageproc"
)

// Handler serves the upload endpoint against a shared config and
// processor factory.
type Handler struct {
	cfg     *config.Config
	factory *imageproc.Factory
}

// New builds a Handler.
func New(cfg *config.Config, factory *imageproc.Factory) *Handler {
	return &Handler{cfg: cfg, factory: factory}
}

// requestLifecycle owns the two competing deadlines and the single-shot
// response gate for one connection. "responded" guards the JSON body:
// at most one caller ever gets to write it. "finish" is independent of
// that gate and simply unblocks the handler goroutine once nothing more
// will touch the connection, whether that is because a response was
// written or because the kill timer took the socket out from under us.
type requestLifecycle struct {
	responded  atomic.Bool
	finishOnce sync.Once
	done       chan struct{}
	procTimer  *time.Timer
	killTimer  *time.Timer
}

func newRequestLifecycle() *requestLifecycle {
	return &requestLifecycle{done: make(chan struct{})}
}

// claim reports whether the caller won the right to write the response.
func (l *requestLifecycle) claim() bool {
	return l.responded.CompareAndSwap(false, true)
}

// finish stops both timers and unblocks Upload. Safe to call from any
// goroutine, any number of times. procTimer is nil until the read and
// the auth/filename checks succeed, since there is nothing to bound
// before that point.
func (l *requestLifecycle) finish() {
	l.finishOnce.Do(func() {
		if l.procTimer != nil {
			l.procTimer.Stop()
		}
		l.killTimer.Stop()
		close(l.done)
	})
}

// beginResponse claims the gate and, if this caller won it, runs write.
// Every terminal path of Upload goes through this, so at most one
// response is ever written and the timers are always stopped on exit.
func (l *requestLifecycle) beginResponse(write func()) {
	if l.claim() {
		write()
	}
	l.finish()
}

// Upload handles POST /api/upload?filename=<raw>.
func (h *Handler) Upload(c *ginext.Context) {
	lifecycle := newRequestLifecycle()

	// The socket-kill timer is armed first, before the body is even read,
	// so it bounds the connection's total lifetime regardless of how
	// slowly the client trickles the upload in.
	lifecycle.killTimer = time.AfterFunc(time.Duration(h.cfg.SocketKillTimeoutSecs)*time.Second, func() {
		if hj, ok := c.Writer.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
			} else {
				zlog.Logger.Warn().Err(err).Msg("socket-kill timer fired but connection could not be hijacked")
			}
		}
		lifecycle.finish()
	})

	// The body is read in full before the filename and auth checks, so an
	// oversized request is reported as such even when it is also missing
	// a filename or carries no Authorization header.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(h.cfg.UploadLimitBytes))
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		lifecycle.beginResponse(func() {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respond.Fail(c, http.StatusRequestEntityTooLarge, respond.ErrPayloadTooLarge)
			} else {
				respond.Fail(c, http.StatusBadRequest, respond.ErrBadRequest)
			}
		})
		return
	}

	filename := c.Query("filename")
	if filename == "" {
		lifecycle.beginResponse(func() {
			respond.Fail(c, http.StatusBadRequest, respond.ErrMissingFilename)
		})
		return
	}

	if h.cfg.AuthToken != "" {
		want := "Bearer " + h.cfg.AuthToken
		got := c.GetHeader("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			lifecycle.beginResponse(func() {
				respond.Fail(c, http.StatusUnauthorized, respond.ErrUnauthorized)
			})
			return
		}
	}

	lifecycle.procTimer = time.AfterFunc(time.Duration(h.cfg.ProcessingTimeoutSecs)*time.Second, func() {
		lifecycle.beginResponse(func() {
			respond.Fail(c, http.StatusServiceUnavailable, respond.ErrProcessingTimedOut)
		})
	})

	// Processing runs detached from the request's context: the pipeline
	// must keep going (and eventually commit) even after the deadline
	// claims the response, per the documented trade-off of wasted work
	// over added synchronization.
	imageproc.Create(context.Background(), h.factory, data, filename, func(desc *imageproc.Descriptor, procErr error) {
		lifecycle.beginResponse(func() {
			if procErr != nil {
				status, code := classifyError(procErr)
				respond.Fail(c, status, code)
			} else {
				respond.OK(c, toUploadResult(desc))
			}
		})
	})

	<-lifecycle.done
}

func classifyError(err error) (status int, code string) {
	switch {
	case errors.Is(err, imageproc.ErrInvalidImage):
		return http.StatusBadRequest, respond.ErrInvalidImage
	default:
		zlog.Logger.Err(err).Msg("image processing failed")
		return http.StatusInternalServerError, respond.ErrInternal
	}
}

func toUploadResult(desc *imageproc.Descriptor) respond.UploadResult {
	variants := make([]respond.DimensionSpec, len(desc.Variants))
	for i, v := range desc.Variants {
		variants[i] = respond.DimensionSpec{Width: v.Width, Height: v.Height, Formats: v.Formats}
	}

	return respond.UploadResult{
		Hash:     desc.Digest,
		Filename: desc.SanitizedName,
		Original: respond.DimensionSpec{
			Width:   desc.Original.Width,
			Height:  desc.Original.Height,
			Formats: desc.Original.Formats,
		},
		Variants: variants,
		IsNew:    desc.IsNew,
	}
}
