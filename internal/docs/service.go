// Package docs renders the AsciiDoc files under the docs directory to HTML
// fragments for the web server.
package docs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("docs")

// ErrNotFound is returned for names that are not documents in the docs
// directory.
var ErrNotFound = errors.New("document not found")

type Service struct {
	docsDir string
	cache   map[string]cached // filename -> rendered content
	mu      sync.RWMutex
}

type cached struct {
	html    string
	modTime int64
}

func NewService(docsDir string) *Service {
	return &Service{
		docsDir: docsDir,
		cache:   make(map[string]cached),
	}
}

// GetDoc renders filename to an HTML fragment. Renders are cached until the
// file changes on disk.
func (s *Service) GetDoc(ctx context.Context, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if filename != filepath.Base(filename) || !strings.HasSuffix(filename, ".adoc") {
		return "", fmt.Errorf("%w: %q", ErrNotFound, filename)
	}

	path := filepath.Join(s.docsDir, filename)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, filename)
		}
		return "", err
	}

	s.mu.RLock()
	c, ok := s.cache[filename]
	s.mu.RUnlock()
	if ok && c.modTime == info.ModTime().UnixNano() {
		return c.html, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	output := bytes.NewBuffer(nil)
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false),
		configuration.WithAttribute("toc", "left"),
	)
	if _, err := libasciidoc.Convert(bytes.NewReader(data), output, config); err != nil {
		return "", fmt.Errorf("failed to convert asciidoc: %w", err)
	}

	html := output.String()
	log.Debugf("rendered %s (%d bytes)", filename, len(html))

	s.mu.Lock()
	s.cache[filename] = cached{html: html, modTime: info.ModTime().UnixNano()}
	s.mu.Unlock()

	return html, nil
}

// ListDocs returns the .adoc files in the docs directory, sorted.
func (s *Service) ListDocs() ([]string, error) {
	entries, err := os.ReadDir(s.docsDir)
	if err != nil {
		return nil, err
	}

	var docs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".adoc") {
			docs = append(docs, entry.Name())
		}
	}
	sort.Strings(docs)
	return docs, nil
}
