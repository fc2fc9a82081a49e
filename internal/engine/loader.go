package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"

	"github.com/roach88/chainharness/internal/filecache"
)

// HarnessScheme prefixes synthetic specifiers that resolve only through
// the file cache.
const HarnessScheme = "harness:"

const (
	moduleHeader = "(function (exports, require, module, __filename, __dirname) {"
	moduleFooter = "\n})"
)

// ErrModuleNotFound is wrapped by resolution failures.
var ErrModuleNotFound = errors.New("module not found")

// moduleLoader implements CommonJS require for one worker. Sources come
// from the file cache; disk reads are gated by the worker's permissions
// and populate the cache.
type moduleLoader struct {
	vm      *goja.Runtime
	cache   *filecache.Cache
	perms   Permissions
	baseDir string
	format  *Formatter

	modules map[string]*goja.Object // resolved specifier → module object
}

func newModuleLoader(vm *goja.Runtime, cache *filecache.Cache, perms Permissions, baseDir string, format *Formatter) *moduleLoader {
	return &moduleLoader{
		vm:      vm,
		cache:   cache,
		perms:   perms,
		baseDir: baseDir,
		format:  format,
		modules: make(map[string]*goja.Object),
	}
}

// dirOf returns the directory relative specifiers inside parent resolve
// against.
func (l *moduleLoader) dirOf(parent string) string {
	if parent == "" || strings.HasPrefix(parent, HarnessScheme) {
		return l.baseDir
	}
	return filepath.Dir(parent)
}

// resolve maps a specifier to a cache key, loading it from disk when it
// is not cached yet.
func (l *moduleLoader) resolve(spec, parent string) (filecache.File, error) {
	if strings.HasPrefix(spec, HarnessScheme) {
		if f, ok := l.cache.Get(spec); ok {
			return f, nil
		}
		return filecache.File{}, fmt.Errorf("%w: %s", ErrModuleNotFound, spec)
	}

	var path string
	switch {
	case filepath.IsAbs(spec):
		path = filepath.Clean(spec)
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"), spec == ".", spec == "..":
		path = filepath.Join(l.dirOf(parent), filepath.FromSlash(spec))
	default:
		return filecache.File{}, fmt.Errorf("%w: %q (bare specifiers are not supported)", ErrModuleNotFound, spec)
	}

	candidates := []string{path}
	if filepath.Ext(path) == "" {
		candidates = append(candidates, path+".js", path+".json", filepath.Join(path, "index.js"))
	}

	for _, c := range candidates {
		if f, ok := l.cache.Get(c); ok {
			return f, nil
		}
	}

	for _, c := range candidates {
		if err := l.perms.CheckRead(c); err != nil {
			return filecache.File{}, err
		}
		data, err := os.ReadFile(c)
		if errors.Is(err, fs.ErrNotExist) || isDirErr(c, err) {
			continue
		}
		if err != nil {
			return filecache.File{}, fmt.Errorf("read %s: %w", c, err)
		}
		mt := filecache.MediaTypeOf(c)
		l.cache.InsertCached(c, string(data), mt)
		return filecache.File{Specifier: c, Source: string(data), MediaType: mt}, nil
	}

	return filecache.File{}, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
}

func isDirErr(path string, err error) bool {
	if err == nil {
		return false
	}
	st, serr := os.Stat(path)
	return serr == nil && st.IsDir()
}

// require loads (or returns the cached exports of) spec as seen from
// parent. Script exceptions are returned as *goja.Exception.
func (l *moduleLoader) require(spec, parent string) (goja.Value, error) {
	file, err := l.resolve(spec, parent)
	if err != nil {
		return nil, err
	}

	if mod, ok := l.modules[file.Specifier]; ok {
		return mod.Get("exports"), nil
	}

	exports := l.vm.NewObject()
	mod := l.vm.NewObject()
	_ = mod.Set("exports", exports)
	_ = mod.Set("id", file.Specifier)

	// Registered before evaluation so cycles see partial exports.
	l.modules[file.Specifier] = mod

	switch file.MediaType {
	case filecache.MediaJSON:
		var v any
		if err := json.Unmarshal([]byte(file.Source), &v); err != nil {
			delete(l.modules, file.Specifier)
			return nil, fmt.Errorf("%s: %w", file.Specifier, err)
		}
		_ = mod.Set("exports", l.vm.ToValue(v))
		return mod.Get("exports"), nil

	case filecache.MediaJavaScript, filecache.MediaUnknown:
		if err := l.evaluate(file, mod, exports); err != nil {
			delete(l.modules, file.Specifier)
			return nil, err
		}
		return mod.Get("exports"), nil

	default:
		delete(l.modules, file.Specifier)
		return nil, fmt.Errorf("%s: cannot load %s as a module", file.Specifier, file.MediaType)
	}
}

func (l *moduleLoader) evaluate(file filecache.File, mod, exports *goja.Object) error {
	ast, err := goja.Parse(file.Specifier, moduleHeader+file.Source+moduleFooter, parser.WithDisableSourceMaps)
	if err != nil {
		return fmt.Errorf("parse %s: %w", file.Specifier, err)
	}
	prg, err := goja.CompileAST(ast, false)
	if err != nil {
		return fmt.Errorf("compile %s: %w", file.Specifier, err)
	}
	l.format.markWrapped(file.Specifier, len(moduleHeader))

	wrapper, err := l.vm.RunProgram(prg)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return fmt.Errorf("%s: module wrapper is not callable", file.Specifier)
	}

	dirname := l.dirOf(file.Specifier)
	_, err = fn(exports,
		exports,
		l.vm.ToValue(l.requireFunc(file.Specifier)),
		mod,
		l.vm.ToValue(file.Specifier),
		l.vm.ToValue(dirname),
	)
	return err
}

// requireFunc is the script-visible require bound to parent.
func (l *moduleLoader) requireFunc(parent string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0)
		if goja.IsUndefined(spec) {
			panic(l.vm.NewTypeError("require: specifier is required"))
		}
		v, err := l.require(spec.String(), parent)
		if err != nil {
			var exc *goja.Exception
			if errors.As(err, &exc) {
				panic(exc)
			}
			panic(l.vm.NewGoError(err))
		}
		return v
	}
}
