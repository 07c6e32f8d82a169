// Package web renders the HTML pages and the gallery fragment.
package web

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/radif/gallery/internal/response"
)

// Lister supplies the keys shown in the gallery.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Settings are the values displayed on the pages.
type Settings struct {
	MaxUploadBytes int64
	// CompressSize is the thumbnail edge length, or 0 when uploads are
	// stored as is.
	CompressSize int
}

type pageData struct {
	Title        string
	MaxUploadMiB int64
	CompressSize int
}

type galleryItem struct {
	Key string
	URL string
}

// Handler holds HTTP handlers for the HTML pages.
type Handler struct {
	pages    map[string]*template.Template
	gallery  *template.Template
	images   Lister
	settings Settings
	logger   zerolog.Logger
}

// NewHandler parses the embedded templates.
func NewHandler(images Lister, settings Settings, logger zerolog.Logger) (*Handler, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{"home", "about", "settings", "contact"} {
		t, err := template.ParseFS(TemplateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = t
	}

	gallery, err := template.ParseFS(TemplateFS, "templates/gallery.html")
	if err != nil {
		return nil, fmt.Errorf("parse gallery template: %w", err)
	}

	return &Handler{
		pages:    pages,
		gallery:  gallery,
		images:   images,
		settings: settings,
		logger:   logger,
	}, nil
}

// Home renders the upload page.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, "home", "Home")
}

// About renders the about page.
func (h *Handler) About(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, "about", "About")
}

// Settings renders the settings page.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, "settings", "Settings")
}

// Contact renders the contact page.
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, "contact", "Contact")
}

// Gallery godoc
//
//	@Summary		Gallery fragment
//	@Description	HTML fragment linking every stored image. The store is re-scanned on every request.
//	@Tags			images
//	@Produce		html
//	@Success		200	{string}	string
//	@Failure		500	{string}	string
//	@Router			/gallery [get]
func (h *Handler) Gallery(w http.ResponseWriter, r *http.Request) {
	keys, err := h.images.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("gallery: list images failed")
		response.Text(w, http.StatusInternalServerError, "failed to list images")
		return
	}

	items := make([]galleryItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, galleryItem{Key: k, URL: "/images/" + url.PathEscape(k)})
	}

	var buf bytes.Buffer
	if err := h.gallery.ExecuteTemplate(&buf, "gallery", items); err != nil {
		h.logger.Error().Err(err).Msg("gallery template error")
		response.Text(w, http.StatusInternalServerError, "template error")
		return
	}
	response.HTML(w, http.StatusOK, buf.Bytes())
}

// Static serves the embedded static assets. Mount it under /static/.
func Static() http.Handler {
	sub, err := fs.Sub(StaticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

func (h *Handler) renderPage(w http.ResponseWriter, name, title string) {
	data := pageData{
		Title:        title,
		MaxUploadMiB: h.settings.MaxUploadBytes >> 20,
		CompressSize: h.settings.CompressSize,
	}

	var buf bytes.Buffer
	if err := h.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Error().Err(err).Str("page", name).Msg("template error")
		response.Text(w, http.StatusInternalServerError, "template error")
		return
	}
	response.HTML(w, http.StatusOK, buf.Bytes())
}
