package main

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radif/gallery/internal/config"
	"github.com/radif/gallery/internal/media"
	"github.com/radif/gallery/internal/web"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Port:           "0",
		AppEnv:         "test",
		MaxUploadBytes: 1 << 20,
		CORSOrigins:    []string{"*"},
		StorageDriver:  config.DriverFilesystem,
		StorageRoot:    t.TempDir(),
	}
}

func newTestServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	store, err := newStorage(cfg, zerolog.Nop())
	require.NoError(t, err)

	svc := media.NewService(store, nil, zerolog.Nop())
	pages, err := web.NewHandler(svc, web.Settings{MaxUploadBytes: cfg.MaxUploadBytes}, zerolog.Nop())
	require.NoError(t, err)

	return newRouter(cfg, zerolog.Nop(), media.NewHandler(svc, zerolog.Nop()), pages, nil)
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestRouter_Health(t *testing.T) {
	h := newTestServer(t, testConfig(t))

	rr := get(h, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.NotEmpty(t, get(h, "/metrics").Body.String())
}

// upload posts data as the first part of a multipart body.
func upload(t *testing.T, h http.Handler, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_UploadServeDelete(t *testing.T) {
	h := newTestServer(t, testConfig(t))
	data := []byte("\xff\xd8\xff\xe0jpeg bytes")

	rr := upload(t, h, "cat.jpg", "application/octet-stream", data)
	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)

	rr = upload(t, h, "cat.jpg", "image/jpeg", data)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	key := strings.TrimPrefix(rr.Body.String(), "File saved as ")
	assert.True(t, strings.HasSuffix(key, "_cat.jpg"))

	rr = get(h, "/gallery")
	assert.Contains(t, rr.Body.String(), `href="/images/`+key+`"`)

	rr = get(h, "/images/"+key)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/jpeg", rr.Header().Get("Content-Type"))
	assert.Equal(t, data, rr.Body.Bytes())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/image/"+key, nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/images/"+key, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/images/"+key).Code)
}

func TestRouter_UploadLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxUploadBytes = 1024
	h := newTestServer(t, cfg)

	rr := upload(t, h, "big.jpg", "image/jpeg", bytes.Repeat([]byte{0xff}, 8192))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestRouter_CollectionsDisabledWithoutDatabase(t *testing.T) {
	h := newTestServer(t, testConfig(t))
	assert.Equal(t, http.StatusNotFound, get(h, "/api/v1/collections").Code)
	assert.Equal(t, http.StatusOK, get(h, "/api/v1/images").Code)
}

func TestRouter_Pages(t *testing.T) {
	h := newTestServer(t, testConfig(t))
	for _, p := range []string{"/", "/about", "/settings", "/contact", "/static/css/style.css"} {
		assert.Equal(t, http.StatusOK, get(h, p).Code, p)
	}
}
