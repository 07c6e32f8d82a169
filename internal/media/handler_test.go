package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radif/gallery/internal/storage"
)

const testUploadLimit = 1 << 20

func newTestRouter(store storage.Storage) http.Handler {
	h := NewHandler(NewService(store, nil, zerolog.Nop()), zerolog.Nop())
	r := chi.NewRouter()
	r.With(chiMiddleware.RequestSize(testUploadLimit)).Post("/upload", h.Upload)
	r.Get("/images/{key}", h.Serve)
	r.Delete("/image/{key}", h.Delete)
	r.Get("/api/v1/images", h.List)
	return r
}

// multipartBody builds a body whose first part has the given headers.
// An empty contentType leaves the Content-Type header off the part.
func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func doUpload(t *testing.T, h http.Handler, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filename, contentType, data)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func keyFromResponse(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := rr.Body.String()
	require.True(t, strings.HasPrefix(body, "File saved as "), body)
	return strings.TrimPrefix(body, "File saved as ")
}

func get(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestUpload_ThenServeIdenticalBytes(t *testing.T) {
	h := newTestRouter(storage.NewMemoryStorage())
	payload := []byte("\xFF\xD8\xFF\xE0\x00\x10JFIF rest of the image")

	key := keyFromResponse(t, doUpload(t, h, "cat.jpg", "image/jpeg", payload))
	assert.Regexp(t, `^[0-9a-f-]{36}_cat\.jpg$`, key)

	rr := get(h, http.MethodGet, "/images/"+key)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/jpeg", rr.Header().Get("Content-Type"))
	assert.Equal(t, payload, rr.Body.Bytes())
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantStatus  int
		wantBody    string
	}{
		{"non jpeg", "image/png", http.StatusUnsupportedMediaType, "only JPEG images are supported, you sent me: image/png"},
		{"missing content type", "", http.StatusBadRequest, "missing content type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStorage()
			h := newTestRouter(store)

			rr := doUpload(t, h, "cat.png", tt.contentType, []byte("data"))
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantBody, rr.Body.String())

			list := get(h, http.MethodGet, "/api/v1/images")
			assert.JSONEq(t, `{"success":true,"data":{"keys":[]}}`, list.Body.String())
		})
	}
}

func TestUpload_NoFileField(t *testing.T) {
	h := newTestRouter(storage.NewMemoryStorage())

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "no file field", rr.Body.String())
}

func TestUpload_NotMultipart(t *testing.T) {
	h := newTestRouter(storage.NewMemoryStorage())
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "image/jpeg")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpload_OnlyFirstPartIsProcessed(t *testing.T) {
	store := storage.NewMemoryStorage()
	h := newTestRouter(store)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, name := range []string{"first.jpg", "second.jpg"} {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
		hdr.Set("Content-Type", "image/jpeg")
		part, err := w.CreatePart(hdr)
		require.NoError(t, err)
		_, _ = part.Write([]byte(name))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	key := keyFromResponse(t, rr)
	assert.True(t, strings.HasSuffix(key, "_first.jpg"))
	keys, _ := store.List(context.Background())
	assert.Len(t, keys, 1)
}

func TestUpload_BodyTooLarge(t *testing.T) {
	store := storage.NewMemoryStorage()
	h := newTestRouter(store)

	rr := doUpload(t, h, "huge.jpg", "image/jpeg", bytes.Repeat([]byte("a"), testUploadLimit+1024))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	keys, _ := store.List(context.Background())
	assert.Empty(t, keys)
}

func TestUpload_TraversalFilenameConfinedToRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "images")
	h := newTestRouter(storage.NewFilesystemStorage(root, zerolog.Nop()))

	key := keyFromResponse(t, doUpload(t, h, "../../etc/passwd", "image/jpeg", []byte("x")))
	assert.Regexp(t, `^[0-9a-f-]{36}_passwd$`, key)

	_, err := os.Stat(filepath.Join(root, key))
	require.NoError(t, err)
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1, "nothing may be written beside the storage root")

	rr := get(h, http.MethodDelete, "/image/"+key)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestServe_TraversalKeysAreNotFound(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "images")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "secret.jpg"), []byte("secret"), 0o600))
	h := newTestRouter(storage.NewFilesystemStorage(root, zerolog.Nop()))

	for _, target := range []string{
		"/images/..%2Fsecret.jpg",
		"/images/%2E%2E%2Fsecret.jpg",
		"/images/..%5Csecret.jpg",
		"/images/.hidden",
	} {
		t.Run(target, func(t *testing.T) {
			rr := get(h, http.MethodGet, target)
			assert.Equal(t, http.StatusNotFound, rr.Code)
			assert.NotContains(t, rr.Body.String(), "secret")

			rr = get(h, http.MethodDelete, strings.Replace(target, "/images/", "/image/", 1))
			assert.Equal(t, http.StatusNotFound, rr.Code)
		})
	}

	_, err := os.Stat(filepath.Join(base, "secret.jpg"))
	assert.NoError(t, err)
}

func TestServe_UnknownKey(t *testing.T) {
	h := newTestRouter(storage.NewMemoryStorage())
	rr := get(h, http.MethodGet, "/images/never-written.jpg")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "image not found", rr.Body.String())
}

func TestServe_ContentTypeByExtension(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.EnsureRoot(ctx))
	for _, key := range []string{"a.png", "b.gif", "c.bin", "d name.jpeg"} {
		require.NoError(t, store.Write(ctx, key, strings.NewReader(key), -1, "image/jpeg"))
	}
	h := newTestRouter(store)

	tests := map[string]string{
		"/images/a.png":         "image/png",
		"/images/b.gif":         "image/gif",
		"/images/c.bin":         "application/octet-stream",
		"/images/d%20name.jpeg": "image/jpeg",
	}
	for target, want := range tests {
		rr := get(h, http.MethodGet, target)
		require.Equal(t, http.StatusOK, rr.Code, target)
		assert.Equal(t, want, rr.Header().Get("Content-Type"), target)
	}
}

func TestDelete_Lifecycle(t *testing.T) {
	h := newTestRouter(storage.NewMemoryStorage())
	key := keyFromResponse(t, doUpload(t, h, "cat.jpg", "image/jpeg", []byte("x")))

	rr := get(h, http.MethodDelete, "/image/"+key)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())

	rr = get(h, http.MethodDelete, "/image/"+key)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, http.StatusNotFound, get(h, http.MethodGet, "/images/"+key).Code)

	var env struct {
		Data keysData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(get(h, http.MethodGet, "/api/v1/images").Body.Bytes(), &env))
	assert.NotContains(t, env.Data.Keys, key)
}

func TestDelete_NeverWritten(t *testing.T) {
	h := newTestRouter(storage.NewMemoryStorage())
	assert.Equal(t, http.StatusNotFound, get(h, http.MethodDelete, "/image/nothing.jpg").Code)
}

func TestUpload_ConcurrentDistinctPayloads(t *testing.T) {
	h := newTestRouter(storage.NewFilesystemStorage(filepath.Join(t.TempDir(), "images"), zerolog.Nop()))

	const n = 16
	keys := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr := doUpload(t, h, "photo.jpg", "image/jpeg", []byte(fmt.Sprintf("payload %d", i)))
			if assert.Equal(t, http.StatusOK, rr.Code) {
				keys[i] = strings.TrimPrefix(rr.Body.String(), "File saved as ")
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, key := range keys {
		require.NotEmpty(t, key)
		require.False(t, seen[key])
		seen[key] = true

		rr := get(h, http.MethodGet, "/images/"+key)
		require.Equal(t, http.StatusOK, rr.Code)
		body, _ := io.ReadAll(rr.Body)
		assert.Equal(t, fmt.Sprintf("payload %d", i), string(body))
	}
}

func TestUpload_FormValueBeforeFileIsTheProcessedPart(t *testing.T) {
	store := storage.NewMemoryStorage()
	h := newTestRouter(store)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("title", "holiday"))
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="cat.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, _ = part.Write([]byte("jpeg"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "missing content type", rr.Body.String())
	keys, _ := store.List(context.Background())
	assert.Empty(t, keys)
}

func TestUpload_TruncatedBodyIsClientError(t *testing.T) {
	root := t.TempDir()
	h := newTestRouter(storage.NewFilesystemStorage(root, zerolog.Nop()))

	body, ct := multipartBody(t, "cat.jpg", "image/jpeg", bytes.Repeat([]byte{0xab}, 4096))
	cut := body.Bytes()[:body.Len()-200]

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(cut))
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "failed to read upload", rr.Body.String())
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no object or temp file is left behind")
}

// trackedBody records reads and closes of a stored object. When cancel is
// set it is called after the first read.
type trackedBody struct {
	mu     sync.Mutex
	reads  int
	closed bool
	cancel context.CancelFunc
}

func (b *trackedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	if b.cancel != nil {
		b.cancel()
	}
	return copy(p, "chunk"), nil
}

func (b *trackedBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type trackedStorage struct {
	*storage.MemoryStorage
	body *trackedBody
}

func (s *trackedStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.body, nil
}

func TestServe_CancelledClientClosesObject(t *testing.T) {
	t.Run("before the first read", func(t *testing.T) {
		body := &trackedBody{}
		h := newTestRouter(&trackedStorage{MemoryStorage: storage.NewMemoryStorage(), body: body})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodGet, "/images/a.jpg", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Zero(t, rr.Body.Len())
		assert.Zero(t, body.reads)
		assert.True(t, body.closed)
	})

	t.Run("mid stream", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		// The body never ends on its own; only cancellation stops the copy.
		body := &trackedBody{cancel: cancel}
		h := newTestRouter(&trackedStorage{MemoryStorage: storage.NewMemoryStorage(), body: body})

		req := httptest.NewRequest(http.MethodGet, "/images/a.jpg", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, "chunk", rr.Body.String())
		assert.Equal(t, 1, body.reads)
		assert.True(t, body.closed)
	})
}
