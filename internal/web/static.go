package web

import (
	"embed"
)

// staticFiles holds the capture page: preview surface and buttons.
//
//go:embed static/*
var staticFiles embed.FS
