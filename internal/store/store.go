// Package store implements the template library store (C2): one sqlite
// file per library holding the three logical tables spec §4.2 describes,
// opened lazily and cached per-library so concurrent batches on different
// libraries never contend on the same *sql.DB (spec §4.2, §6.2).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qingrongy/logtmpl/pkg/errors"
	"github.com/qingrongy/logtmpl/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS libraries (
	id TEXT PRIMARY KEY,
	next_template_number INTEGER NOT NULL DEFAULT 1,
	head_pattern TEXT
);
CREATE TABLE IF NOT EXISTS templates (
	id TEXT PRIMARY KEY,
	library_id TEXT NOT NULL,
	placeholder_template TEXT NOT NULL,
	example_values TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS matched_samples (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	library_id TEXT NOT NULL,
	template_id TEXT,
	raw TEXT NOT NULL,
	content TEXT,
	variables TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_templates_library ON templates(library_id);
CREATE INDEX IF NOT EXISTS idx_matched_library ON matched_samples(library_id);
`

// libraryHandle lazily owns the *sql.DB for one library file. Mutations
// against a single library are serialized through mu, matching the
// per-namespace locking pattern the rest of this codebase uses for
// shared in-memory maps.
type libraryHandle struct {
	mu sync.Mutex
	db *sql.DB
}

// SQLiteStore is the TemplateStore implementation backing pkg/interfaces.TemplateStore.
type SQLiteStore struct {
	baseDir    string
	maxSamples int
	logger     *log.Logger

	mu      sync.RWMutex
	handles map[string]*libraryHandle
}

// New opens (creating if necessary) a store rooted at baseDir. maxSamples
// is N_max_samples (spec §3.2 invariant 6); zero or negative falls back to
// the documented default of 1000.
func New(baseDir string, maxSamples int, logger *log.Logger) (*SQLiteStore, error) {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Store] ", log.LstdFlags)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.NewStoreError("open", "", fmt.Sprintf("create base dir: %v", err))
	}
	return &SQLiteStore{
		baseDir:    baseDir,
		maxSamples: maxSamples,
		logger:     logger,
		handles:    make(map[string]*libraryHandle),
	}, nil
}

// filename returns the on-disk, URL-safe percent-encoded name for a
// library id (spec §4.2 "Library ids are written URL-safe").
func filename(libraryID string) string {
	return url.QueryEscape(libraryID) + ".db"
}

// getOrOpen returns the cached handle for libraryID, opening and
// migrating it on first use. Double-checked locking avoids holding the
// write lock on the hot path once a library's handle is warm.
func (s *SQLiteStore) getOrOpen(libraryID string) (*libraryHandle, error) {
	s.mu.RLock()
	h, ok := s.handles[libraryID]
	s.mu.RUnlock()
	if ok {
		return h, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[libraryID]; ok {
		return h, nil
	}

	path := filepath.Join(s.baseDir, filename(libraryID))
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewStoreError("open", libraryID, err.Error())
	}
	db.SetMaxOpenConns(1) // one writer per library file, per §4.2 ACID-per-operation note
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.NewStoreError("migrate", libraryID, err.Error())
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO libraries(id, next_template_number) VALUES (?, 1)`, libraryID); err != nil {
		db.Close()
		return nil, errors.NewStoreError("migrate", libraryID, err.Error())
	}
	h = &libraryHandle{db: db}
	s.handles[libraryID] = h
	return h, nil
}

// ListLibraries enumerates every library file currently on disk.
func (s *SQLiteStore) ListLibraries() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, errors.NewStoreError("list", "", err.Error())
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		encoded := strings.TrimSuffix(e.Name(), ".db")
		id, err := url.QueryUnescape(encoded)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadLibrary returns a single consistent snapshot of the named library.
func (s *SQLiteStore) LoadLibrary(id string) (*types.LibraryView, error) {
	h, err := s.getOrOpen(id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	view := &types.LibraryView{ID: id, NextTemplateNumber: 1}

	row := h.db.QueryRow(`SELECT next_template_number, head_pattern FROM libraries WHERE id = ?`, id)
	var headPattern sql.NullString
	if err := row.Scan(&view.NextTemplateNumber, &headPattern); err != nil && err != sql.ErrNoRows {
		return nil, errors.NewStoreError("load", id, err.Error())
	}
	if headPattern.Valid && headPattern.String != "" {
		var head types.HeadPattern
		if err := json.Unmarshal([]byte(headPattern.String), &head); err != nil {
			return nil, errors.NewStoreError("load", id, fmt.Sprintf("decode head pattern: %v", err))
		}
		view.Head = &head
	}

	rows, err := h.db.Query(`SELECT id, placeholder_template, example_values, metadata, created_at FROM templates WHERE library_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, errors.NewStoreError("load", id, err.Error())
	}
	defer rows.Close()
	for rows.Next() {
		var rec types.TemplateRecord
		var exampleValues, metadata, createdAt string
		if err := rows.Scan(&rec.ID, &rec.PlaceholderTemplate, &exampleValues, &metadata, &createdAt); err != nil {
			return nil, errors.NewStoreError("load", id, err.Error())
		}
		rec.LibraryID = id
		if err := json.Unmarshal([]byte(exampleValues), &rec.ExampleValues); err != nil {
			return nil, errors.NewStoreError("load", id, fmt.Sprintf("decode example values: %v", err))
		}
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return nil, errors.NewStoreError("load", id, fmt.Sprintf("decode metadata: %v", err))
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		view.Templates = append(view.Templates, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError("load", id, err.Error())
	}

	sampleRows, err := h.db.Query(`SELECT template_id, raw, content, variables, created_at FROM matched_samples WHERE library_id = ? ORDER BY seq DESC LIMIT ?`, id, s.maxSamples)
	if err != nil {
		return nil, errors.NewStoreError("load", id, err.Error())
	}
	defer sampleRows.Close()
	for sampleRows.Next() {
		var sample types.MatchedSample
		var templateID, content sql.NullString
		var variables, createdAt string
		if err := sampleRows.Scan(&templateID, &sample.Raw, &content, &variables, &createdAt); err != nil {
			return nil, errors.NewStoreError("load", id, err.Error())
		}
		sample.TemplateID = templateID.String
		sample.Content = content.String
		if err := json.Unmarshal([]byte(variables), &sample.Variables); err != nil {
			return nil, errors.NewStoreError("load", id, fmt.Sprintf("decode variables: %v", err))
		}
		sample.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		view.MatchedSamples = append(view.MatchedSamples, sample)
	}
	if err := sampleRows.Err(); err != nil {
		return nil, errors.NewStoreError("load", id, err.Error())
	}

	return view, nil
}

// SaveTemplate upserts by T.ID, assigning "<library>#<next_template_number>"
// and bumping the counter atomically when T.ID is empty (spec §4.2).
func (s *SQLiteStore) SaveTemplate(libraryID string, t types.TemplateRecord) (types.TemplateRecord, error) {
	h, err := s.getOrOpen(libraryID)
	if err != nil {
		return types.TemplateRecord{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.Begin()
	if err != nil {
		return types.TemplateRecord{}, errors.NewStoreError("save_template", libraryID, err.Error())
	}
	defer tx.Rollback()

	if t.ID == "" {
		var next int
		if err := tx.QueryRow(`SELECT next_template_number FROM libraries WHERE id = ?`, libraryID).Scan(&next); err != nil {
			return types.TemplateRecord{}, errors.NewStoreError("save_template", libraryID, err.Error())
		}
		t.ID = fmt.Sprintf("%s#%d", libraryID, next)
		if _, err := tx.Exec(`UPDATE libraries SET next_template_number = ? WHERE id = ?`, next+1, libraryID); err != nil {
			return types.TemplateRecord{}, errors.NewStoreError("save_template", libraryID, err.Error())
		}
	}
	t.LibraryID = libraryID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = timeNow()
	}

	exampleValues, err := json.Marshal(t.ExampleValues)
	if err != nil {
		return types.TemplateRecord{}, errors.NewStoreError("save_template", libraryID, err.Error())
	}
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return types.TemplateRecord{}, errors.NewStoreError("save_template", libraryID, err.Error())
	}

	_, err = tx.Exec(`
		INSERT INTO templates(id, library_id, placeholder_template, example_values, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			placeholder_template = excluded.placeholder_template,
			example_values = excluded.example_values,
			metadata = excluded.metadata`,
		t.ID, libraryID, t.PlaceholderTemplate, string(exampleValues), string(metadata), t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return types.TemplateRecord{}, errors.NewStoreError("save_template", libraryID, err.Error())
	}
	if err := tx.Commit(); err != nil {
		return types.TemplateRecord{}, errors.NewStoreError("save_template", libraryID, err.Error())
	}
	return t, nil
}

// DeleteTemplate removes a template and its owned matched samples.
func (s *SQLiteStore) DeleteTemplate(libraryID, templateID string) error {
	h, err := s.getOrOpen(libraryID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.Begin()
	if err != nil {
		return errors.NewStoreError("delete_template", libraryID, err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM templates WHERE id = ? AND library_id = ?`, templateID, libraryID); err != nil {
		return errors.NewStoreError("delete_template", libraryID, err.Error())
	}
	if _, err := tx.Exec(`DELETE FROM matched_samples WHERE template_id = ? AND library_id = ?`, templateID, libraryID); err != nil {
		return errors.NewStoreError("delete_template", libraryID, err.Error())
	}
	return tx.Commit()
}

// RecordMatches appends matched samples then evicts the oldest rows once
// N_max_samples is exceeded (FIFO), per spec §3.2 invariant 6 / P5.
func (s *SQLiteStore) RecordMatches(libraryID string, records []types.MatchedSample) error {
	if len(records) == 0 {
		return nil
	}
	h, err := s.getOrOpen(libraryID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.Begin()
	if err != nil {
		return errors.NewStoreError("record_matches", libraryID, err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO matched_samples(library_id, template_id, raw, content, variables, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewStoreError("record_matches", libraryID, err.Error())
	}
	defer stmt.Close()

	for _, rec := range records {
		variables, err := json.Marshal(rec.Variables)
		if err != nil {
			return errors.NewStoreError("record_matches", libraryID, err.Error())
		}
		created := rec.CreatedAt
		if created.IsZero() {
			created = timeNow()
		}
		if _, err := stmt.Exec(libraryID, sqlNullString(rec.TemplateID), rec.Raw, sqlNullString(rec.Content), string(variables), created.Format(time.RFC3339Nano)); err != nil {
			return errors.NewStoreError("record_matches", libraryID, err.Error())
		}
	}

	// Evict everything past the newest N_max_samples rows for this library.
	_, err = tx.Exec(`
		DELETE FROM matched_samples
		WHERE library_id = ? AND seq NOT IN (
			SELECT seq FROM matched_samples WHERE library_id = ? ORDER BY seq DESC LIMIT ?
		)`, libraryID, libraryID, s.maxSamples)
	if err != nil {
		return errors.NewStoreError("record_matches", libraryID, err.Error())
	}

	return tx.Commit()
}

// SaveHeadPattern overwrites the library's head pattern.
func (s *SQLiteStore) SaveHeadPattern(libraryID string, head types.HeadPattern) error {
	h, err := s.getOrOpen(libraryID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	encoded, err := json.Marshal(head)
	if err != nil {
		return errors.NewStoreError("save_head", libraryID, err.Error())
	}
	_, err = h.db.Exec(`UPDATE libraries SET head_pattern = ? WHERE id = ?`, string(encoded), libraryID)
	if err != nil {
		return errors.NewStoreError("save_head", libraryID, err.Error())
	}
	return nil
}

// Close releases every open library handle. Intended for process shutdown.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, h := range s.handles {
		if err := h.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", id, err)
		}
	}
	s.handles = make(map[string]*libraryHandle)
	return firstErr
}

func sqlNullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

// timeNow is the single indirection point for "current time" in this
// package, so tests can't be thrown off by wall-clock skew without
// reaching into unrelated code.
var timeNow = time.Now
