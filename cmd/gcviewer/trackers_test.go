package main

import (
	"bytes"
	"database/sql"
	"strings"
	"testing"

	"github.com/MichaelMauderer/Gazer/auth"
	"github.com/MichaelMauderer/Gazer/library"
)

func TestManageTrackers(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()
	svc := auth.NewService(db, "secret")
	if err := svc.InitializeSchema(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if handled, err := manageTrackers(svc, &out, "", "", false); handled || err != nil {
		t.Errorf("manageTrackers() with no flags = %v, %v; want false, nil", handled, err)
	}
	if _, err := manageTrackers(svc, &out, "tobii", "", false); err == nil {
		t.Error("-add-tracker without a secret should fail")
	}
	if _, err := manageTrackers(svc, &out, "tobii:hunter2", "", true); err != nil {
		t.Fatalf("add error = %v", err)
	}
	if !strings.Contains(out.String(), "Registered tracker tobii\ntobii\n") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if _, err := manageTrackers(svc, &out, "", "tobii", true); err != nil {
		t.Fatalf("remove error = %v", err)
	}
	if !strings.Contains(out.String(), "No trackers registered") {
		t.Errorf("output = %q", out.String())
	}
	if _, err := manageTrackers(svc, &out, "", "tobii", false); err == nil {
		t.Error("removing an unknown tracker should fail")
	}
}

func TestStartScene(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()
	if err := library.InitializeSchema(db); err != nil {
		t.Fatal(err)
	}

	if got := startScene(db, ""); got != "" {
		t.Errorf("startScene() with no history = %q; want empty", got)
	}
	if got := startScene(db, "/a.gc"); got != "/a.gc" {
		t.Errorf("startScene(/a.gc) = %q; want /a.gc", got)
	}

	library.SetPref(db, library.PrefLastScene, "/definitely/missing.gc")
	if got := startScene(db, ""); got != "" {
		t.Errorf("startScene() with a missing last scene = %q; want empty", got)
	}

	existing := t.TempDir()
	library.SetPref(db, library.PrefLastScene, existing)
	if got := startScene(db, ""); got != existing {
		t.Errorf("startScene() = %q; want %q", got, existing)
	}
}
