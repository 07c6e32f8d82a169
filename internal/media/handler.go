package media

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/radif/gallery/internal/response"
	"github.com/radif/gallery/internal/storage"
)

// Handler holds HTTP handlers for image endpoints.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

// NewHandler creates a new media Handler.
func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Upload godoc
//
//	@Summary		Upload an image
//	@Description	Stores the first part of a multipart body as a JPEG image. The first part must be the file; form fields sent before it are rejected and parts after it are never read.
//	@Tags			images
//	@Accept			mpfd
//	@Produce		plain
//	@Param			file	formData	file	true	"JPEG image"
//	@Success		200		{string}	string	"File saved as <key>"
//	@Failure		400		{string}	string
//	@Failure		413		{string}	string
//	@Failure		415		{string}	string
//	@Failure		500		{string}	string
//	@Router			/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		h.fail(w, r, newError(InvalidInput, "expected a multipart/form-data body", err))
		return
	}

	// Only the first part is processed. Remaining parts are left unread and
	// discarded with the request body.
	part, err := mr.NextPart()
	if err != nil {
		h.fail(w, r, partError(err))
		return
	}
	defer part.Close()

	key, err := h.svc.Ingest(r.Context(), Upload{
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Body:        part,
		Size:        -1,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Text(w, http.StatusOK, "File saved as "+key)
}

// Serve godoc
//
//	@Summary		Get an image
//	@Description	Streams the stored bytes with a content type derived from the key's extension.
//	@Tags			images
//	@Produce		octet-stream
//	@Param			key	path		string	true	"Storage key"
//	@Success		200	{file}		binary
//	@Failure		404	{string}	string
//	@Router			/images/{key} [get]
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(r)
	if !ok {
		h.fail(w, r, newError(NotFound, "image not found", nil))
		return
	}

	obj, err := h.svc.Open(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, storage.NewContextReader(r.Context(), obj.Body))
	if err != nil {
		h.logger.Debug().Err(err).Str("key", key).Int64("bytes", n).Msg("image stream aborted")
	}
}

// Delete godoc
//
//	@Summary		Delete an image
//	@Description	Removes a stored image. A second delete of the same key returns 404.
//	@Tags			images
//	@Param			key	path	string	true	"Storage key"
//	@Success		204
//	@Failure		404	{string}	string
//	@Failure		500	{string}	string
//	@Router			/image/{key} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(r)
	if !ok {
		h.fail(w, r, newError(NotFound, "image not found", nil))
		return
	}

	if err := h.svc.Delete(r.Context(), key); err != nil {
		h.fail(w, r, err)
		return
	}
	response.NoContent(w)
}

// List godoc
//
//	@Summary		List image keys
//	@Description	Returns every key currently in the store. Order is not guaranteed.
//	@Tags			images
//	@Produce		json
//	@Success		200	{object}	response.Envelope{data=keysData}
//	@Failure		500	{object}	response.Envelope
//	@Router			/api/v1/images [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list images failed")
		response.InternalError(w)
		return
	}
	response.OK(w, keysData{Keys: keys})
}

type keysData struct {
	Keys []string `json:"keys"`
}

// fail writes err as a plain-text response. Internal causes are logged and
// never sent to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(StorageFailure, "internal server error", err)
	}
	status := e.Kind.Status()
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("kind", e.Kind.String()).Str("path", r.URL.Path).Msg("request failed")
	} else {
		h.logger.Debug().Err(err).Str("kind", e.Kind.String()).Str("path", r.URL.Path).Msg("request rejected")
	}
	response.Text(w, status, e.Message)
}

// keyParam returns the decoded {key} URL parameter. chi routes on RawPath
// when the request carries one (e.g. for "%2F"), leaving the value escaped.
func keyParam(r *http.Request) (string, bool) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath != "" {
		var err error
		if key, err = url.PathUnescape(key); err != nil {
			return "", false
		}
	}
	return key, key != ""
}

func partError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return newError(InvalidInput, "no file field", err)
	case errors.As(err, &tooLarge):
		return newError(PayloadTooLarge, "request body too large", err)
	default:
		return newError(InvalidInput, "malformed multipart body", err)
	}
}
