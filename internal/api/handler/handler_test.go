package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-processor/internal/api/handler"
	"github.com/aliskhannn/image-processor/internal/api/respond"
	"github.com/aliskhannn/image-processor/internal/api/router"
	"github.com/aliskhannn/image-processor/internal/config"
	"github.com/aliskhannn/image-processor/internal/dedup"
	"github.com/aliskhannn/image-processor/internal/imageproc"
	"github.com/aliskhannn/image-processor/internal/pool"
	"github.com/aliskhannn/image-processor/internal/storage"
)

type memBackend struct {
	mu        sync.Mutex
	committed map[string][]storage.FolderEntry
}

func newMemBackend() *memBackend {
	return &memBackend{committed: map[string][]storage.FolderEntry{}}
}

func (b *memBackend) Walk(_ context.Context, publicName string) ([]storage.FolderEntry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries, ok := b.committed[publicName]
	return entries, ok, nil
}

func (b *memBackend) CreateStaged(_ context.Context, _ string) (storage.StagedHandle, error) {
	return &memStagedHandle{files: map[string][]byte{}}, nil
}

func (b *memBackend) Commit(_ context.Context, handle storage.StagedHandle, publicName string) error {
	_ = handle.(*memStagedHandle)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed[publicName] = []storage.FolderEntry{{Name: "committed"}}
	return nil
}

type memStagedHandle struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (h *memStagedHandle) CreateFile(_ context.Context, name string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[name] = data
	return nil
}
func (h *memStagedHandle) CreateSubfolder(_ context.Context, _ string) error { return nil }
func (h *memStagedHandle) Discard(_ context.Context) error                  { return nil }

func testConfig() *config.Config {
	specs, _ := config.ParseSizeSpecs("50")
	return &config.Config{
		ProcessingTimeoutSecs: 8,
		SocketKillTimeoutSecs: 10,
		UploadLimitBytes:      1024,
		Sizes:                 specs,
		Formats:               map[string][]string{"jpeg": {"jpeg"}},
	}
}

func newTestRouter(cfg *config.Config) *ginext.Engine {
	factory := &imageproc.Factory{
		Pool:     pool.New(2),
		Backend:  newMemBackend(),
		Registry: dedup.New(),
		Config:   cfg,
	}
	h := handler.New(cfg, factory)
	return router.Setup(h)
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 40))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestUploadSucceedsWithValidImage(t *testing.T) {
	r := newTestRouter(testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/upload?filename=photo.jpg", bytes.NewReader(testJPEG(t)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result respond.UploadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(result.Hash) != 32 {
		t.Fatalf("hash length = %d, want 32", len(result.Hash))
	}
	if !result.IsNew {
		t.Fatal("expected is_new=true on a cold upload")
	}
}

func TestUploadMissingFilename(t *testing.T) {
	r := newTestRouter(testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(testJPEG(t)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	assertErrorCode(t, rec.Body.Bytes(), respond.ErrMissingFilename)
}

func TestUploadRejectsBadAuth(t *testing.T) {
	cfg := testConfig()
	cfg.AuthToken = "secret"
	r := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/upload?filename=photo.jpg", bytes.NewReader(testJPEG(t)))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	assertErrorCode(t, rec.Body.Bytes(), respond.ErrUnauthorized)
}

func TestUploadAcceptsCorrectAuth(t *testing.T) {
	cfg := testConfig()
	cfg.AuthToken = "secret"
	r := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/upload?filename=photo.jpg", bytes.NewReader(testJPEG(t)))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	cfg := testConfig()
	cfg.UploadLimitBytes = 10
	r := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/upload?filename=photo.jpg", bytes.NewReader(testJPEG(t)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	assertErrorCode(t, rec.Body.Bytes(), respond.ErrPayloadTooLarge)
}

func TestUploadOversizedBodyTakesPrecedenceOverMissingFilename(t *testing.T) {
	cfg := testConfig()
	cfg.UploadLimitBytes = 10
	r := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(testJPEG(t)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413, body = %s", rec.Code, rec.Body.String())
	}
	assertErrorCode(t, rec.Body.Bytes(), respond.ErrPayloadTooLarge)
}

func TestUploadRejectsInvalidImageBytes(t *testing.T) {
	r := newTestRouter(testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/upload?filename=photo.jpg", bytes.NewReader([]byte("not an image")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	assertErrorCode(t, rec.Body.Bytes(), respond.ErrInvalidImage)
}

func TestUploadTimesOutWhenProcessingTimeoutIsZeroish(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessingTimeoutSecs = 0
	// validate() in config.Load would reject 0, but we build the struct
	// directly here, so enforce the same floor the handler relies on:
	// a timer of 0 fires essentially immediately.
	cfg.SocketKillTimeoutSecs = 2

	r := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/upload?filename=photo.jpg", bytes.NewReader(testJPEG(t)))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(rec, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("request never completed")
	}

	if rec.Code != http.StatusOK && rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 200 or 503", rec.Code)
	}
}

func assertErrorCode(t *testing.T, body []byte, want string) {
	t.Helper()
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if e.Error != want {
		t.Fatalf("error code = %q, want %q", e.Error, want)
	}
}
