// Package catalog stores generated STAC Items in a SQLite database.
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentic-research/stacgen/internal/stac"
	_ "modernc.org/sqlite"
)

// DefaultBatchSize is the number of items committed per transaction.
const DefaultBatchSize = 500

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	collection TEXT,
	product TEXT NOT NULL,
	generated_at INTEGER NOT NULL,
	document JSON NOT NULL
);
`

// Writer upserts items in batched transactions. It is safe for concurrent use.
type Writer struct {
	db        *sql.DB
	tx        *sql.Tx
	stmt      *sql.Stmt
	batchSize int
	count     int
	total     int
	now       func() time.Time
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewWriter opens or creates the catalog at dbPath.
func NewWriter(dbPath string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	for _, pragma := range []string{"PRAGMA synchronous = NORMAL", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &Writer{
		db:        db,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		logger:    logger,
	}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	w.stmt, err = w.tx.Prepare(`
		INSERT INTO items (id, collection, product, generated_at, document)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			collection = excluded.collection,
			product = excluded.product,
			generated_at = excluded.generated_at,
			document = excluded.document
	`)
	if err != nil {
		_ = w.tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	return nil
}

func (w *Writer) commitTx() error {
	if w.stmt != nil {
		_ = w.stmt.Close()
		w.stmt = nil
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Put stores the document generated for product. An existing item with
// the same id is replaced.
func (w *Writer) Put(product string, doc *stac.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", doc.ID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tx == nil {
		return fmt.Errorf("catalog writer is closed")
	}

	var collection *string
	if doc.Collection != "" {
		collection = &doc.Collection
	}
	if _, err := w.stmt.Exec(doc.ID, collection, product, w.now().UnixNano(), string(raw)); err != nil {
		return fmt.Errorf("insert item %s: %w", doc.ID, err)
	}

	w.count++
	w.total++
	if w.count >= w.batchSize {
		if err := w.commitTx(); err != nil {
			w.tx = nil
			return err
		}
		if err := w.beginTx(); err != nil {
			w.tx = nil
			return err
		}
		w.count = 0
	}
	return nil
}

// Close commits pending items and closes the database.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tx != nil {
		if err := w.commitTx(); err != nil {
			_ = w.db.Close()
			return err
		}
		w.tx = nil
	}
	if _, err := w.db.Exec(`CREATE INDEX IF NOT EXISTS idx_items_collection ON items(collection)`); err != nil {
		w.logger.Warn("catalog index creation failed", slog.Any("error", err))
	}
	w.logger.Debug("catalog closed", slog.Int("items", w.total))
	return w.db.Close()
}
