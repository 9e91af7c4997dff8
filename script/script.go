// Package script runs the optional Lua filter that decides which requests the proxy
// may answer with the offline page.
//
// A script defines a global function intercept(request) that receives a table with
// the method, scheme, host, path and mode of the request and returns a boolean.
package script

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
	"github.com/Shopify/goluago/util"
)

// FunctionName is the global Lua function called for every request
const FunctionName = "intercept"

var (
	// ErrNoInterceptFunction is returned when the script does not define the intercept function
	ErrNoInterceptFunction = errors.New("script does not define " + FunctionName)
	// ErrScript is returned when the script fails to load or raises an error
	ErrScript = errors.New("lua script error")
)

// Request is the view of a request passed to the script
type Request struct {
	Method string
	Scheme string
	Host   string
	Path   string
	Mode   string
}

func (r Request) table() map[string]interface{} {
	return map[string]interface{}{
		"method": r.Method,
		"scheme": r.Scheme,
		"host":   r.Host,
		"path":   r.Path,
		"mode":   r.Mode,
	}
}

// Filter holds a loaded script. A lua.State is not safe for concurrent use, calls are serialized
type Filter struct {
	Name   string
	mu     sync.Mutex
	state  *lua.State
	logger *slog.Logger
}

// Load reads the script at path and returns the Filter for it
func Load(path string, logger *slog.Logger) (*Filter, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %s : %w", path, err)
	}
	return New(path, string(code), logger)
}

// New loads code into a fresh Lua state with the standard libraries.
// print is redirected to the logger
func New(name string, code string, logger *slog.Logger) (*Filter, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f := &Filter{
		Name:   name,
		state:  lua.NewState(),
		logger: logger.With("script", name),
	}
	lua.OpenLibraries(f.state)
	f.registerPrint()

	if err := lua.DoString(f.state, code); err != nil {
		return nil, fmt.Errorf("%w : loading %s : %w", ErrScript, name, err)
	}

	f.state.Global(FunctionName)
	defined := f.state.IsFunction(-1)
	f.state.Pop(1)
	if !defined {
		return nil, fmt.Errorf("%w : %s", ErrNoInterceptFunction, name)
	}
	return f, nil
}

func (f *Filter) registerPrint() {
	f.state.Register("print", func(l *lua.State) int {
		n := l.Top()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			s, _ := lua.ToStringMeta(l, i)
			l.Pop(1)
			parts = append(parts, s)
		}
		f.logger.Info(strings.Join(parts, "\t"))
		return 0
	})
}

// Intercept calls the intercept function with the request and returns its result as a boolean
func (f *Filter) Intercept(req Request) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l := f.state
	l.Global(FunctionName)
	if !l.IsFunction(-1) {
		l.Pop(1)
		return false, ErrNoInterceptFunction
	}

	util.DeepPush(l, req.table())
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		l.Pop(1)
		return false, fmt.Errorf("%w : calling %s : %w", ErrScript, FunctionName, err)
	}
	result := l.ToBoolean(-1)
	l.Pop(1)
	return result, nil
}
