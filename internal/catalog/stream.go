package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one stored item.
type Entry struct {
	ID          string
	Collection  string
	Product     string
	GeneratedAt time.Time
	// Document is the item JSON as stored.
	Document json.RawMessage
}

// Stream calls fn for every stored item in id order. Only one entry is
// alive at a time. A non-nil error from fn stops the iteration.
func Stream(dbPath string, fn func(Entry) error) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query("SELECT id, collection, product, generated_at, document FROM items ORDER BY id")
	if err != nil {
		return fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			e          Entry
			collection sql.NullString
			nanos      int64
			raw        string
		)
		if err := rows.Scan(&e.ID, &collection, &e.Product, &nanos, &raw); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("item %s: stored document is not valid JSON", e.ID)
		}
		e.Collection = collection.String
		e.GeneratedAt = time.Unix(0, nanos).UTC()
		e.Document = json.RawMessage(raw)
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Load returns every stored item document, parsed.
func Load(dbPath string) ([]map[string]any, error) {
	var out []map[string]any
	err := Stream(dbPath, func(e Entry) error {
		var doc map[string]any
		if err := json.Unmarshal(e.Document, &doc); err != nil {
			return fmt.Errorf("parse item %s: %w", e.ID, err)
		}
		out = append(out, doc)
		return nil
	})
	return out, err
}
