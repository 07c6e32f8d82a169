package web

import "embed"

// TemplateFS holds the page and fragment templates.
//
//go:embed templates/*.html
var TemplateFS embed.FS

// StaticFS holds the stylesheet and other static assets.
//
//go:embed static
var StaticFS embed.FS
