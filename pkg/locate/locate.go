// Package locate finds NeXus files on the load path and detects which
// backend family a file belongs to.
package locate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/nxfs/internal/logger"
	"github.com/marmos91/nxfs/pkg/backend"
)

// DefaultEnv is the environment variable holding the load path.
const DefaultEnv = "NX_LOAD_PATH"

var (
	// ErrUnreadable means the file could not be opened for reading.
	ErrUnreadable = errors.New("file cannot be read")

	// ErrUnrecognized means the file is readable but no driver claims it.
	ErrUnrecognized = errors.New("file format not recognized")
)

// Remote resolves load path entries of a URL scheme, such as
// "s3://bucket/prefix". Resolve returns the local path of name below entry
// and false when the remote does not hold it.
type Remote interface {
	Resolve(ctx context.Context, entry, name string) (string, bool, error)
}

// Locator searches the directories listed in an environment variable.
type Locator struct {
	env       string
	remotes   map[string]Remote
	lookupEnv func(string) (string, bool)
}

// New returns a locator reading the load path from env. An empty env
// selects DefaultEnv.
func New(env string) *Locator {
	if env == "" {
		env = DefaultEnv
	}
	return &Locator{
		env:       env,
		remotes:   make(map[string]Remote),
		lookupEnv: os.LookupEnv,
	}
}

// Env returns the name of the environment variable consulted by Find.
func (l *Locator) Env() string {
	return l.env
}

// AddRemote routes load path entries with the given scheme to r.
func (l *Locator) AddRemote(scheme string, r Remote) {
	l.remotes[strings.ToLower(scheme)] = r
}

// Find returns the path to open for name. The name is tried as given
// first, then below every load path entry in order. When nothing matches,
// name is returned unchanged and the subsequent open reports the failure.
func (l *Locator) Find(ctx context.Context, name string) string {
	if canOpen(name) {
		return name
	}

	value, ok := l.lookupEnv(l.env)
	if !ok || value == "" {
		return name
	}

	for _, entry := range SplitLoadPath(value) {
		if entry == "" {
			continue
		}
		if scheme, _, isURL := strings.Cut(entry, "://"); isURL {
			if p, ok := l.resolveRemote(ctx, strings.ToLower(scheme), entry, name); ok {
				return p
			}
			continue
		}
		candidate := filepath.Join(entry, name)
		if canOpen(candidate) {
			logger.Debug("located %s as %s", name, candidate)
			return candidate
		}
	}
	return name
}

// SplitLoadPath splits a load path at os.PathListSeparator. On systems
// where the separator is ':' a URL entry such as "s3://bucket/prefix" is
// cut at its scheme; such pieces are joined back into one entry.
func SplitLoadPath(value string) []string {
	parts := filepath.SplitList(value)
	if os.PathListSeparator != ':' {
		return parts
	}
	out := make([]string, 0, len(parts))
	for i := 0; i < len(parts); i++ {
		if i+1 < len(parts) && isScheme(parts[i]) && strings.HasPrefix(parts[i+1], "//") {
			out = append(out, parts[i]+":"+parts[i+1])
			i++
			continue
		}
		out = append(out, parts[i])
	}
	return out
}

// isScheme reports whether s is a URL scheme as in RFC 3986: a letter
// followed by letters, digits, '+', '-' or '.'.
func isScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

func (l *Locator) resolveRemote(ctx context.Context, scheme, entry, name string) (string, bool) {
	r, ok := l.remotes[scheme]
	if !ok {
		logger.Debug("load path entry %s ignored: no remote for scheme %s", entry, scheme)
		return "", false
	}
	p, found, err := r.Resolve(ctx, entry, name)
	if err != nil {
		logger.Warn("load path entry %s: %v", entry, err)
		return "", false
	}
	if found {
		logger.Debug("located %s in %s as %s", name, entry, p)
	}
	return p, found
}

func canOpen(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Detect returns the first driver in drivers that recognizes the file.
// The file must be readable, else ErrUnreadable is returned. A readable
// file that no driver claims yields ErrUnrecognized.
func Detect(drivers []backend.Driver, path string) (backend.Driver, error) {
	if !canOpen(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnreadable, path)
	}
	for _, d := range drivers {
		ok, err := d.Probe(path)
		if err != nil {
			logger.Debug("%s probe of %s failed: %v", d.Name(), path, err)
			continue
		}
		if ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnrecognized, path)
}
