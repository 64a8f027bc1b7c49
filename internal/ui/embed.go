// Package ui embeds the static assets served under /static/, including the
// placeholder photo recorded for measurements that arrive without an image.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var assets embed.FS

// PlaceholderName is the embedded placeholder photo.
const PlaceholderName = "default_penguin.jpg"

// FS returns a http.FileSystem rooted at the embedded static directory.
func FS() http.FileSystem {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		return http.FS(assets)
	}
	return http.FS(sub)
}
