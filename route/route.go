// Package route classifies paths as host-local or board-resident and
// dispatches filesystem helpers to the right side of the link.
//
// A path is remote when it carries a leading ':', lives under one of the
// attached board's root directories, or starts with the board's
// "/<name>/" prefix. Everything else is local. Auto is the single entry
// point the command layer uses; every filesystem primitive is a helper
// that runs unchanged in either location.
package route

import (
	"fmt"
	"os"
	"strings"

	"github.com/ardnew/boardsh/pkg"
	"github.com/ardnew/boardsh/remote"
	"github.com/ardnew/boardsh/session"
)

// Normalize resolves path against cwd into a clean absolute path:
// '~' expands to the host home directory, '.' and '..' segments fold,
// consecutive slashes collapse, and a lone '/' survives. Paths forced
// remote with a leading ':' pass through untouched (a bare ":" means the
// board's root).
func Normalize(path, cwd string) string {
	if path == "" {
		return cwd
	}
	if path[0] == ':' {
		if len(path) == 1 {
			return ":/"
		}
		return path
	}
	if path[0] == '~' {
		path = expandHome(path)
	}
	if path[0] != '/' {
		if strings.HasSuffix(cwd, "/") {
			path = cwd + path
		} else {
			path = cwd + "/" + path
		}
	}

	comps := strings.Split(path, "/")
	resolved := []string{}
	for _, comp := range comps {
		switch {
		case comp == "." || (comp == "" && len(resolved) > 0):
			// Folds a/./b and a//b, and drops the trailing slash tab
			// completion leaves on directories.
		case comp == "..":
			if len(resolved) > 1 {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, comp)
		}
	}
	if len(resolved) == 1 && resolved[0] == "" {
		return "/"
	}
	return strings.Join(resolved, "/")
}

// expandHome substitutes the host home directory for a leading '~'.
func expandHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return home + path[1:]
	}
	return path
}

// Resolve maps path to (device, device-relative path). A nil device
// means the path is host-local. A ':'-forced path with no attached
// device fails with [pkg.ErrNoDevice].
func Resolve(path string) (*session.Session, string, error) {
	dev := session.Current()
	if strings.HasPrefix(path, ":") {
		if dev == nil {
			return nil, "", fmt.Errorf("%w: %s", pkg.ErrNoDevice, path)
		}
		rel := strings.TrimSuffix(path[1:], ":")
		if rel == "" {
			rel = "/"
		}
		return dev, rel, nil
	}
	if dev != nil {
		if dev.IsRootPath(path) {
			return dev, path, nil
		}
		if strings.HasPrefix(path+"/", dev.NamePath()) {
			rel := path[len(dev.NamePath())-1:]
			if rel == "" {
				rel = "/"
			}
			return dev, rel, nil
		}
	}
	return nil, path, nil
}

// Auto invokes helper with path (plus any extra args) on whichever side
// of the link the path lives: shipped through the current session for
// remote paths, run directly in the host process otherwise.
func Auto(h *remote.Helper, path string, args ...any) (any, error) {
	dev, rel, err := Resolve(path)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		if strings.HasPrefix(rel, "~") {
			rel = expandHome(rel)
		}
		if h.Local == nil {
			return nil, fmt.Errorf("helper %s has no host body", h.Name)
		}
		return h.Local(append([]any{rel}, args...)...)
	}
	return dev.InvokeEval(h, append([]any{rel}, args...)...)
}

// IsPattern reports whether s contains shell wildcard characters.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// ParsePattern splits a wildcard path like "foo/bar/*.py" into the
// directory to list and the basename pattern to match against it.
// Wildcards in the directory portion, and '{...}' alternation anywhere,
// are unsupported and fail with [pkg.ErrInvalidPath].
func ParsePattern(s string) (dir, pattern string, err error) {
	if strings.Contains(s, "{") {
		return "", "", fmt.Errorf("%w: unsupported pattern %q", pkg.ErrInvalidPath, s)
	}
	if strings.HasPrefix(s, "~") {
		s = expandHome(s)
	}
	parts := strings.Split(s, "/")
	absolute := len(parts) > 1 && parts[0] == ""
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1] // trailing slash
	}
	if len(parts) == 0 {
		return "", "", fmt.Errorf("%w: empty pattern", pkg.ErrInvalidPath)
	}
	dir = strings.Join(parts[:len(parts)-1], "/")
	pattern = parts[len(parts)-1]
	if IsPattern(dir) {
		return "", "", fmt.Errorf("%w: wildcard directory in %q", pkg.ErrInvalidPath, s)
	}
	if !IsPattern(pattern) {
		return "", "", fmt.Errorf("%w: no wildcard in %q", pkg.ErrInvalidPath, s)
	}
	if dir == "" {
		if absolute {
			dir = "/"
		} else {
			dir = "."
		}
	}
	return dir, pattern, nil
}
