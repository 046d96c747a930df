package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local writes documents under a directory. Location is a file path, or a URL
// when a public base URL is configured.
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, baseURL string) *Local {
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

func (l *Local) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	if l.baseURL != "" {
		return l.baseURL + "/" + (&url.URL{Path: key}).EscapedPath(), nil
	}
	return path, nil
}
