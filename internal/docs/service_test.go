package docs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetDocRendersAsciiDoc(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "guide.adoc"), []byte("= Guide\n\n== Listing\n\nPlace an asset in escrow.\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)

	svc := NewService(dir)
	html, err := svc.GetDoc(context.Background(), "guide.adoc")
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if !strings.Contains(html, "Place an asset in escrow.") {
		t.Fatalf("rendered output missing paragraph:\n%s", html)
	}

	docs, err := svc.ListDocs()
	if err != nil {
		t.Fatalf("ListDocs: %v", err)
	}
	if len(docs) != 1 || docs[0] != "guide.adoc" {
		t.Fatalf("unexpected docs %v", docs)
	}
}

func TestGetDocRejectsUnknownNames(t *testing.T) {
	svc := NewService(t.TempDir())

	for _, name := range []string{"missing.adoc", "../secret.adoc", "config.json"} {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.GetDoc(context.Background(), name); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestBundledDocsRender(t *testing.T) {
	svc := NewService(filepath.Join("..", "..", "docs"))
	docs, err := svc.ListDocs()
	if err != nil {
		t.Fatalf("ListDocs: %v", err)
	}
	for _, name := range docs {
		if _, err := svc.GetDoc(context.Background(), name); err != nil {
			t.Errorf("GetDoc %s: %v", name, err)
		}
	}
}
