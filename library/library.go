// Package library remembers the scenes a user has opened and small viewer
// preferences in the SQLite database.
package library

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// SceneItem represents a row from the scenes table
type SceneItem struct {
	Path          string        `json:"path"`
	Name          string        `json:"name"`
	Frames        sql.NullInt64 `json:"frames"`
	Size          sql.NullInt64 `json:"size"`
	OpenCount     int           `json:"open_count"`
	OpenedAt      time.Time     `json:"opened_at"`
	FormattedSize string        `json:"-"`
	Exists        bool          `json:"exists"`
}

// MarshalJSON implements custom JSON marshaling for SceneItem
func (s SceneItem) MarshalJSON() ([]byte, error) {
	type Alias SceneItem
	return json.Marshal(&struct {
		*Alias
		Frames *int64 `json:"frames"`
		Size   *int64 `json:"size"`
	}{
		Alias: (*Alias)(&s),
		Frames: func() *int64 {
			if s.Frames.Valid {
				return &s.Frames.Int64
			}
			return nil
		}(),
		Size: func() *int64 {
			if s.Size.Valid {
				return &s.Size.Int64
			}
			return nil
		}(),
	})
}

// InitializeSchema creates the library tables if they don't exist.
func InitializeSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scenes (
			path TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			frames INTEGER,
			size INTEGER,
			open_count INTEGER NOT NULL DEFAULT 0,
			opened_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scenes_opened_at ON scenes(opened_at)`,
		`CREATE TABLE IF NOT EXISTS prefs (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("failed to initialize library schema: %w", err)
		}
	}
	return nil
}

// FormatBytes converts bytes to human readable format
func FormatBytes(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	const unit = 1024
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	i := 0
	b := float64(bytes)
	for b >= unit && i < len(sizes)-1 {
		b /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", b, sizes[i])
}

// CheckFileExists checks if a scene exists at the given path. Remote URIs
// are assumed to exist.
func CheckFileExists(path string) bool {
	if strings.Contains(path, "://") {
		return true
	}
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// CheckFilesExistConcurrent checks existence for multiple paths concurrently
func CheckFilesExistConcurrent(paths []string) map[string]bool {
	out := make(map[string]bool, len(paths))
	if len(paths) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, path := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			exists := CheckFileExists(p)
			mu.Lock()
			out[p] = exists
			mu.Unlock()
		}(path)
	}
	wg.Wait()
	return out
}

// RecordOpen stores that the scene at path was opened. frames and size are
// stored when positive.
func RecordOpen(db *sql.DB, path, name string, frames int, size int64) error {
	if db == nil {
		return fmt.Errorf("database connection not available")
	}
	if path == "" {
		return fmt.Errorf("empty scene path")
	}
	var f, s sql.NullInt64
	if frames > 0 {
		f = sql.NullInt64{Int64: int64(frames), Valid: true}
	}
	if size > 0 {
		s = sql.NullInt64{Int64: size, Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO scenes (path, name, frames, size, open_count, opened_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			frames = COALESCE(excluded.frames, scenes.frames),
			size = COALESCE(excluded.size, scenes.size),
			open_count = scenes.open_count + 1,
			opened_at = excluded.opened_at
	`, path, name, f, s, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record scene %s: %w", path, err)
	}
	return nil
}

// GetRecent returns the most recently opened scenes, newest first.
func GetRecent(db *sql.DB, limit int) ([]SceneItem, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	if limit <= 0 || limit > 200 {
		limit = 25
	}
	rows, err := db.Query(`
		SELECT path, name, frames, size, open_count, opened_at
		FROM scenes
		ORDER BY opened_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SceneItem
	var paths []string
	for rows.Next() {
		var it SceneItem
		var openedAt int64
		if err := rows.Scan(&it.Path, &it.Name, &it.Frames, &it.Size, &it.OpenCount, &openedAt); err != nil {
			return nil, err
		}
		it.OpenedAt = time.Unix(0, openedAt)
		if it.Size.Valid {
			it.FormattedSize = FormatBytes(it.Size.Int64)
		}
		items = append(items, it)
		paths = append(paths, it.Path)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	exists := CheckFilesExistConcurrent(paths)
	for i := range items {
		items[i].Exists = exists[items[i].Path]
	}
	return items, nil
}

// Forget removes a scene from the history.
func Forget(db *sql.DB, path string) error {
	if db == nil {
		return fmt.Errorf("database connection not available")
	}
	if _, err := db.Exec(`DELETE FROM scenes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to forget scene %s: %w", path, err)
	}
	return nil
}

// ForgetMissing removes scenes whose files no longer exist and returns how
// many were removed.
func ForgetMissing(db *sql.DB) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("database connection not available")
	}
	rows, err := db.Query(`SELECT path FROM scenes`)
	if err != nil {
		return 0, err
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		paths = append(paths, p)
	}
	rows.Close()

	removed := 0
	for p, ok := range CheckFilesExistConcurrent(paths) {
		if ok {
			continue
		}
		if err := Forget(db, p); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// escapeLikePattern escapes special LIKE characters so that user input is treated
// as a literal substring. It escapes %, _ and the escape character itself (\).
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// SuggestPaths returns known scene paths containing prefix (case-insensitive for ASCII)
func SuggestPaths(db *sql.DB, prefix string, limit int) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	if limit <= 0 || limit > 200 {
		limit = 25
	}
	like := "%" + escapeLikePattern(strings.TrimSpace(prefix)) + "%"
	rows, err := db.Query(`
        SELECT path
        FROM scenes
        WHERE path LIKE ? ESCAPE '\'
        ORDER BY opened_at DESC
        LIMIT ?
    `, like, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PrefLastScene holds the path of the most recently opened scene.
const PrefLastScene = "last_scene"

// GetPref returns the stored preference for key.
func GetPref(db *sql.DB, key string) (string, bool, error) {
	if db == nil {
		return "", false, fmt.Errorf("database connection not available")
	}
	var v string
	err := db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetPref stores a preference, replacing any previous value.
func SetPref(db *sql.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("database connection not available")
	}
	_, err := db.Exec(`
		INSERT INTO prefs (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set preference %s: %w", key, err)
	}
	return nil
}
