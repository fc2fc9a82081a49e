package engine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/go-sourcemap/sourcemap"

	"github.com/roach88/chainharness/internal/filecache"
)

var (
	frameRe       = regexp.MustCompile(`^\s*at (?:(.*?) \()?(.+?):(\d+):(\d+)(?:\(\d+\))?\)?$`)
	nativeFrameRe = regexp.MustCompile(`^\s*at (?:(.*?) \()?native\)?$`)
	mapURLRe      = regexp.MustCompile(`(?m)^\s*//[#@] sourceMappingURL=(\S+)\s*$`)
)

// Formatter rewrites engine stack traces to original source positions
// using source maps found through the file cache.
//
// Safe for concurrent use; the harness formats reported stacks while the
// worker is still running.
type Formatter struct {
	cache *filecache.Cache
	perms Permissions

	mu        sync.Mutex
	consumers map[string]*sourcemap.Consumer // nil entry: no map
	offsets   map[string]int                 // line-1 column shift of wrapped modules
}

func newFormatter(cache *filecache.Cache, perms Permissions) *Formatter {
	return &Formatter{
		cache:     cache,
		perms:     perms,
		consumers: make(map[string]*sourcemap.Consumer),
		offsets:   make(map[string]int),
	}
}

// markWrapped records that file was compiled behind a prefix of n
// columns on its first line.
func (f *Formatter) markWrapped(file string, n int) {
	f.mu.Lock()
	f.offsets[file] = n
	f.mu.Unlock()
}

// ParseStack splits an engine stack ("message" then "at ..." lines) into
// its message and source-mapped frames. Lines that are not frames are
// folded into the message.
func (f *Formatter) ParseStack(stack string) (string, []Frame) {
	var (
		msg    []string
		frames []Frame
	)
	for _, line := range strings.Split(strings.TrimRight(stack, "\n"), "\n") {
		if m := frameRe.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[3])
			col, _ := strconv.Atoi(m[4])
			frames = append(frames, f.mapFrame(Frame{Function: m[1], File: m[2], Line: ln, Column: col}))
			continue
		}
		if m := nativeFrameRe.FindStringSubmatch(line); m != nil {
			frames = append(frames, Frame{Function: m[1], File: "native", Native: true})
			continue
		}
		if len(frames) == 0 {
			msg = append(msg, line)
		}
	}
	return strings.Join(msg, "\n"), frames
}

// FormatStack returns stack with every frame rewritten through source
// maps.
func (f *Formatter) FormatStack(stack string) string {
	msg, frames := f.ParseStack(stack)
	se := &ScriptError{Message: msg, Frames: frames}
	return se.Stack()
}

// FormatException converts an uncaught engine exception into a
// ScriptError.
func (f *Formatter) FormatException(worker string, exc *goja.Exception) *ScriptError {
	msg := exc.Error()
	if v := exc.Value(); v != nil {
		msg = v.String()
	}

	// exc.String() is the message followed by "\tat ..." frame lines.
	_, frames := f.ParseStack(exc.String())
	return &ScriptError{Worker: worker, Message: msg, Frames: frames}
}

// FormatValue converts a thrown or rejected value into a ScriptError,
// using its stack property when present.
func (f *Formatter) FormatValue(worker string, v goja.Value) *ScriptError {
	se := &ScriptError{Worker: worker, Message: "undefined"}
	if v == nil || goja.IsUndefined(v) {
		return se
	}
	se.Message = v.String()
	if obj, ok := v.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) && !goja.IsNull(stack) {
			_, se.Frames = f.ParseStack(stack.String())
		}
	}
	return se
}

func (f *Formatter) mapFrame(fr Frame) Frame {
	f.mu.Lock()
	if n, ok := f.offsets[fr.File]; ok && fr.Line == 1 {
		fr.Column -= n
		if fr.Column < 1 {
			fr.Column = 1
		}
	}
	f.mu.Unlock()

	smc := f.consumer(fr.File)
	if smc == nil {
		return fr
	}

	// The consumer takes 0-based columns and returns 0-based columns.
	src, name, line, col, ok := smc.Source(fr.Line, fr.Column-1)
	if !ok {
		return fr
	}
	fr.File = src
	fr.Line = line
	fr.Column = col + 1
	if fr.Function == "" && name != "" {
		fr.Function = name
	}
	fr.Mapped = true
	return fr
}

// consumer returns the parsed source map for file, loading it on first
// use. Missing or broken maps are cached as nil.
func (f *Formatter) consumer(file string) *sourcemap.Consumer {
	f.mu.Lock()
	smc, seen := f.consumers[file]
	f.mu.Unlock()
	if seen {
		return smc
	}

	smc, _ = f.loadMap(file)

	f.mu.Lock()
	f.consumers[file] = smc
	f.mu.Unlock()
	return smc
}

func (f *Formatter) loadMap(file string) (*sourcemap.Consumer, error) {
	src, ok := f.cache.Get(file)
	if !ok {
		return nil, fmt.Errorf("%s not cached", file)
	}

	matches := mapURLRe.FindAllStringSubmatch(src.Source, -1)
	if len(matches) == 0 {
		return nil, errors.New("no sourceMappingURL")
	}
	ref := matches[len(matches)-1][1]

	if strings.HasPrefix(ref, "data:") {
		data, err := decodeDataURL(ref)
		if err != nil {
			return nil, err
		}
		return sourcemap.Parse(file, data)
	}

	if strings.HasPrefix(file, HarnessScheme) {
		return nil, errors.New("relative source map on synthetic module")
	}
	if u, err := url.PathUnescape(ref); err == nil {
		ref = u
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(file), filepath.FromSlash(ref))
	}

	if cached, ok := f.cache.Get(path); ok {
		return sourcemap.Parse(path, []byte(cached.Source))
	}
	if err := f.perms.CheckRead(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.cache.InsertCached(path, string(data), filecache.MediaSourceMap)
	return sourcemap.Parse(path, data)
}

// decodeDataURL decodes data:[<mediatype>][;base64],<data>.
func decodeDataURL(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data URL")
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}
