// Package filecache maps module specifiers to source text.
//
// The engine's module loader resolves every import through the cache, so a
// synthetic entry module that never touches disk can be inserted under a
// non-filesystem specifier and imported like any other module.
package filecache

import (
	"path"
	"strings"
	"sync"
)

// MediaType classifies cached content.
type MediaType string

const (
	MediaJavaScript MediaType = "JavaScript"
	MediaJSON       MediaType = "Json"
	MediaSourceMap  MediaType = "SourceMap"
	MediaUnknown    MediaType = "Unknown"
)

// File is one cached entry.
type File struct {
	Specifier string
	Source    string
	MediaType MediaType
}

// Cache is safe for concurrent use; child workers on other goroutines
// share their parent's cache.
type Cache struct {
	mu    sync.RWMutex
	files map[string]File
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{files: make(map[string]File)}
}

// InsertCached stores content under specifier, replacing any previous entry.
func (c *Cache) InsertCached(specifier, content string, mt MediaType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[specifier] = File{Specifier: specifier, Source: content, MediaType: mt}
}

// Get returns the entry for specifier.
func (c *Cache) Get(specifier string) (File, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.files[specifier]
	return f, ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}

// MediaTypeOf infers the media type from a specifier's extension.
func MediaTypeOf(specifier string) MediaType {
	switch strings.ToLower(path.Ext(specifier)) {
	case ".js", ".mjs", ".cjs":
		return MediaJavaScript
	case ".json":
		return MediaJSON
	case ".map":
		return MediaSourceMap
	default:
		return MediaUnknown
	}
}
