package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentic-research/stacgen/internal/stac"
)

// Sink receives generated documents. Implementations must be safe for
// concurrent use. *catalog.Writer is a Sink.
//
// A Runner puts each document into its sinks in order and stops at the
// first failure. Sinks that already took the document are asked to drop it
// when they implement Remover; others keep it.
type Sink interface {
	Put(product string, doc *stac.Document) error
}

// Remover is implemented by sinks that can withdraw a document they stored.
type Remover interface {
	Remove(product string, doc *stac.Document) error
}

// DirSink writes one <id>.json file per document.
type DirSink struct {
	Dir string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &DirSink{Dir: dir}, nil
}

func (s *DirSink) path(doc *stac.Document) (string, error) {
	if doc.ID == "" || strings.ContainsAny(doc.ID, `/\`) || doc.ID == "." || doc.ID == ".." {
		return "", fmt.Errorf("item id %q cannot be used as a file name", doc.ID)
	}
	return filepath.Join(s.Dir, doc.ID+".json"), nil
}

// Put writes the document. The file is renamed into place so readers never
// see a partial item.
func (s *DirSink) Put(_ string, doc *stac.Document) error {
	target, err := s.path(doc)
	if err != nil {
		return err
	}
	raw, err := doc.JSON()
	if err != nil {
		return fmt.Errorf("encode item %s: %w", doc.ID, err)
	}
	tmp, err := os.CreateTemp(s.Dir, "."+doc.ID+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Remove deletes the file Put wrote for doc. A missing file is not an error.
func (s *DirSink) Remove(_ string, doc *stac.Document) error {
	target, err := s.path(doc)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
