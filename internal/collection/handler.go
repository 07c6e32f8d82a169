package collection

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/radif/gallery/internal/response"
)

// Handler holds HTTP handlers for collection endpoints.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

// NewHandler creates a new collection Handler.
func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type createRequest struct {
	Title       string `json:"title"       example:"Holidays"`
	Description string `json:"description" example:"Summer 2026"`
}

type addImageRequest struct {
	Key string `json:"key" example:"0b3c5a36-6f4e-4d8e-9a57-3f0d2f3f8e11_beach.jpg"`
}

// Routes mounts the collection endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/images", h.AddImage)
	r.Delete("/{id}/images/{key}", h.RemoveImage)
}

// Create godoc
//
//	@Summary		Create collection
//	@Description	Create an empty collection of images.
//	@Tags			collections
//	@Accept			json
//	@Produce		json
//	@Param			request	body		createRequest	true	"Collection"
//	@Success		201		{object}	response.Envelope{data=Collection}
//	@Failure		400		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/api/v1/collections [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	c, err := h.svc.Create(r.Context(), req.Title, req.Description)
	if err != nil {
		h.fail(w, err)
		return
	}
	response.Created(w, c)
}

// List godoc
//
//	@Summary		List collections
//	@Tags			collections
//	@Produce		json
//	@Success		200	{object}	response.Envelope{data=[]Collection}
//	@Failure		500	{object}	response.Envelope
//	@Router			/api/v1/collections [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	cs, err := h.svc.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, cs)
}

// Get godoc
//
//	@Summary		Get collection
//	@Description	Returns a collection with the keys of its images.
//	@Tags			collections
//	@Produce		json
//	@Param			id	path		string	true	"Collection ID"
//	@Success		200	{object}	response.Envelope{data=Collection}
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/api/v1/collections/{id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, c)
}

// Delete godoc
//
//	@Summary		Delete collection
//	@Description	Deletes a collection. Images it references stay in the store.
//	@Tags			collections
//	@Param			id	path	string	true	"Collection ID"
//	@Success		204
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/api/v1/collections/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	response.NoContent(w)
}

// AddImage godoc
//
//	@Summary		Add image to collection
//	@Description	Adds a stored image to the collection. The first image becomes the cover.
//	@Tags			collections
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Collection ID"
//	@Param			request	body		addImageRequest	true	"Image key"
//	@Success		201		{object}	response.Envelope{data=addImageRequest}
//	@Failure		400		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		409		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/api/v1/collections/{id}/images [post]
func (h *Handler) AddImage(w http.ResponseWriter, r *http.Request) {
	var req addImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.svc.AddImage(r.Context(), chi.URLParam(r, "id"), req.Key); err != nil {
		h.fail(w, err)
		return
	}
	response.Created(w, req)
}

// RemoveImage godoc
//
//	@Summary		Remove image from collection
//	@Tags			collections
//	@Param			id	path	string	true	"Collection ID"
//	@Param			key	path	string	true	"Image key"
//	@Success		204
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/api/v1/collections/{id}/images/{key} [delete]
func (h *Handler) RemoveImage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath != "" {
		var err error
		if key, err = url.PathUnescape(key); err != nil {
			response.NotFound(w, "image not in collection")
			return
		}
	}

	if err := h.svc.RemoveImage(r.Context(), chi.URLParam(r, "id"), key); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "image not in collection")
			return
		}
		h.fail(w, err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrImageNotFound):
		response.NotFound(w, "image not found")
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "collection not found")
	case errors.Is(err, ErrAlreadyExists):
		response.Conflict(w, "image already in collection")
	default:
		h.logger.Error().Err(err).Msg("collection request failed")
		response.InternalError(w)
	}
}
