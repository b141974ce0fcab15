package library

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := InitializeSchema(db); err != nil {
		t.Fatalf("InitializeSchema() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestFormatBytes tests the FormatBytes function
func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{"Zero bytes", 0, "0 B"},
		{"Bytes", 512, "512.0 B"},
		{"Kilobytes", 1024, "1.0 KB"},
		{"Megabytes", 1024 * 1024, "1.0 MB"},
		{"Mixed MB", 2.5 * 1024 * 1024, "2.5 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatBytes(tt.bytes)
			if result != tt.expected {
				t.Errorf("FormatBytes(%d) = %s, want %s", tt.bytes, result, tt.expected)
			}
		})
	}
}

func TestEscapeLikePattern(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"100%", `100\%`},
		{"a_b", `a\_b`},
		{`C:\scenes`, `C:\\scenes`},
	}
	for _, tt := range tests {
		if got := escapeLikePattern(tt.input); got != tt.expected {
			t.Errorf("escapeLikePattern(%q) = %q; want %q", tt.input, got, tt.expected)
		}
	}
}

func TestCheckFilesExistConcurrent(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "tulips.gc")
	if err := os.WriteFile(present, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "gone.gc")

	got := CheckFilesExistConcurrent([]string{present, missing, "s3://bucket/scene.gc"})
	if !got[present] {
		t.Errorf("%s should exist", present)
	}
	if got[missing] {
		t.Errorf("%s should not exist", missing)
	}
	if !got["s3://bucket/scene.gc"] {
		t.Error("remote URIs should be assumed to exist")
	}
	if len(CheckFilesExistConcurrent(nil)) != 0 {
		t.Error("empty input should give an empty map")
	}
}

func TestRecordOpenAndGetRecent(t *testing.T) {
	db := setupTestDB(t)

	if err := RecordOpen(db, "/scenes/a.gc", "a.gc", 12, 2048); err != nil {
		t.Fatalf("RecordOpen() error = %v", err)
	}
	if err := RecordOpen(db, "/scenes/b", "b", 0, 0); err != nil {
		t.Fatalf("RecordOpen() error = %v", err)
	}
	if err := RecordOpen(db, "/scenes/a.gc", "a.gc", 0, 0); err != nil {
		t.Fatalf("RecordOpen() error = %v", err)
	}

	items, err := GetRecent(db, 10)
	if err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("GetRecent() returned %d items; want 2", len(items))
	}
	a := items[0]
	if a.Path != "/scenes/a.gc" {
		t.Errorf("newest item = %q; want /scenes/a.gc", a.Path)
	}
	if a.OpenCount != 2 {
		t.Errorf("OpenCount = %d; want 2", a.OpenCount)
	}
	if !a.Frames.Valid || a.Frames.Int64 != 12 {
		t.Errorf("Frames = %+v; want 12 kept from the first open", a.Frames)
	}
	if a.FormattedSize != "2.0 KB" {
		t.Errorf("FormattedSize = %q; want 2.0 KB", a.FormattedSize)
	}
	if items[1].Frames.Valid {
		t.Error("unknown frame count should be NULL")
	}

	if err := RecordOpen(db, "", "x", 0, 0); err == nil {
		t.Error("RecordOpen() with empty path should fail")
	}
}

func TestSceneItemJSON(t *testing.T) {
	it := SceneItem{Path: "/a.gc", Name: "a.gc", Frames: sql.NullInt64{Int64: 3, Valid: true}}
	data, err := json.Marshal(it)
	if err != nil {
		t.Fatalf("json.Marshal error = %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed["frames"] != float64(3) {
		t.Errorf("frames = %v; want 3", parsed["frames"])
	}
	if parsed["size"] != nil {
		t.Errorf("size = %v; want null", parsed["size"])
	}
}

func TestForgetMissing(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	present := filepath.Join(dir, "kept.gc")
	if err := os.WriteFile(present, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	RecordOpen(db, present, "kept.gc", 1, 1)
	RecordOpen(db, filepath.Join(dir, "gone.gc"), "gone.gc", 1, 1)

	removed, err := ForgetMissing(db)
	if err != nil {
		t.Fatalf("ForgetMissing() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("ForgetMissing() = %d; want 1", removed)
	}
	items, _ := GetRecent(db, 10)
	if len(items) != 1 || items[0].Path != present {
		t.Errorf("remaining items = %+v", items)
	}
}

func TestSuggestPaths(t *testing.T) {
	db := setupTestDB(t)
	RecordOpen(db, "/scenes/tulips.gc", "tulips.gc", 0, 0)
	RecordOpen(db, "/scenes/roses_100%.gc", "roses", 0, 0)
	RecordOpen(db, "/other/cat.7z", "cat", 0, 0)

	tests := []struct {
		prefix   string
		expected int
	}{
		{"scenes", 2},
		{"100%", 1},
		{"_", 1},
		{"cat.7", 1},
		{"", 3},
	}
	for _, tt := range tests {
		got, err := SuggestPaths(db, tt.prefix, 10)
		if err != nil {
			t.Fatalf("SuggestPaths(%q) error = %v", tt.prefix, err)
		}
		if len(got) != tt.expected {
			t.Errorf("SuggestPaths(%q) = %v; want %d results", tt.prefix, got, tt.expected)
		}
	}
}

func TestPrefs(t *testing.T) {
	db := setupTestDB(t)

	if _, ok, err := GetPref(db, "calibration"); err != nil || ok {
		t.Errorf("GetPref(missing) = _, %v, %v; want not found", ok, err)
	}
	if err := SetPref(db, "calibration", "/cal/a.json"); err != nil {
		t.Fatalf("SetPref() error = %v", err)
	}
	if err := SetPref(db, "calibration", "/cal/b.json"); err != nil {
		t.Fatalf("SetPref() error = %v", err)
	}
	v, ok, err := GetPref(db, "calibration")
	if err != nil || !ok || v != "/cal/b.json" {
		t.Errorf("GetPref() = %q, %v, %v; want /cal/b.json", v, ok, err)
	}
}

func TestNilDB(t *testing.T) {
	if err := RecordOpen(nil, "a", "a", 0, 0); err == nil {
		t.Error("RecordOpen(nil) should fail")
	}
	if _, err := GetRecent(nil, 1); err == nil {
		t.Error("GetRecent(nil) should fail")
	}
	if _, err := SuggestPaths(nil, "", 1); err == nil {
		t.Error("SuggestPaths(nil) should fail")
	}
}
