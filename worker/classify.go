package worker

import (
	"path"
	"strings"
)

// Class determines the caching strategy applied to a request
type Class string

const (
	// ClassAPI requests are served network-first with an offline JSON fallback
	ClassAPI Class = "api"
	// ClassImage requests are served cache-first with a placeholder fallback
	ClassImage Class = "image"
	// ClassStatic requests are precached assets served cache-first
	ClassStatic Class = "static"
	// ClassOther requests are served network-first
	ClassOther Class = "other"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".ico":  true,
	".avif": true,
}

// Classify returns the class of a request path.
// The result only depends on the path and the worker configuration.
func (w *Worker) Classify(p string) Class {
	if strings.HasPrefix(p, w.c.APIPrefix) {
		return ClassAPI
	}
	if imageExtensions[strings.ToLower(path.Ext(p))] {
		return ClassImage
	}
	if _, ok := w.precache[p]; ok {
		return ClassStatic
	}
	return ClassOther
}
