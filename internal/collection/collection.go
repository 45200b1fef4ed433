// Package collection resolves named document collections on disk and loads
// their markdown documents.
//
// Layout:
//
//	<root>/<name>/**/*.md          documents
//	<root>/<name>/faiss_index/     persisted vector index
//	<root>/<name>/faiss_index.lock build lock
package collection

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultRoot is the collections root used when none is configured.
const DefaultRoot = "data/collections"

// IndexDirName is the per-collection directory holding the persisted index.
const IndexDirName = "faiss_index"

var (
	// ErrCollectionNotFound is returned when the collection directory is missing.
	ErrCollectionNotFound = errors.New("collection: not found")
	// ErrNoDocuments is returned when a collection holds no markdown files.
	ErrNoDocuments = errors.New("collection: no documents")
	// ErrInvalidName is returned for names that are not a single path segment.
	ErrInvalidName = errors.New("collection: invalid name")
)

// Document is one loaded markdown file.
type Document struct {
	// Source is the file path, rooted at the collection directory's parent
	// as passed to LoadDocuments.
	Source string
	// Content is the file text.
	Content string
}

// Layout maps collection names to directories under Root.
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at root, or DefaultRoot when empty.
func NewLayout(root string) Layout {
	if root == "" {
		root = DefaultRoot
	}
	return Layout{Root: root}
}

// ValidateName rejects names that would escape Root.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Dir returns the directory of the named collection.
func (l Layout) Dir(name string) string {
	return filepath.Join(l.Root, name)
}

// IndexDir returns the persisted-index directory of the named collection.
func (l Layout) IndexDir(name string) string {
	return filepath.Join(l.Root, name, IndexDirName)
}

// LockPath returns the build lock file of the named collection.
func (l Layout) LockPath(name string) string {
	return l.IndexDir(name) + ".lock"
}

// List returns the sorted names of all collection directories under Root.
// A missing root yields an empty list.
func (l Layout) List() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("collection: list %s: %w", l.Root, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load validates name and loads its documents.
func (l Layout) Load(name string) ([]Document, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return LoadDocuments(l.Dir(name))
}

// LoadDocuments returns every *.md file below dir in lexical path order.
// Hidden directories and the index directory are skipped.
func LoadDocuments(dir string) ([]Document, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("collection: stat %s: %w", dir, err)
	}

	var docs []Document
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(d.Name(), ".") || d.Name() == IndexDirName) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !utf8.Valid(data) {
			return fmt.Errorf("read %s: not valid UTF-8", path)
		}
		docs = append(docs, Document{Source: path, Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collection: walk %s: %w", dir, err)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDocuments, dir)
	}
	return docs, nil
}
