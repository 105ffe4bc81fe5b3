package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultProfile:   "work",
		SendReadReceipts: true,
		Trim:             TrimConfig{MaxMessagesPerThread: 500, MaxAgeDays: 30},
		EarlyReceipt:     EarlyReceiptConfig{TTLMinutes: 45, MaxSize: 200},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if !loaded.SendReadReceipts {
		t.Error("SendReadReceipts = false, want true")
	}
	if loaded.Trim.MaxMessagesPerThread != 500 {
		t.Errorf("MaxMessagesPerThread = %d, want 500", loaded.Trim.MaxMessagesPerThread)
	}
	if loaded.EarlyReceipt.TTLMinutes != 45 {
		t.Errorf("TTLMinutes = %d, want 45", loaded.EarlyReceipt.TTLMinutes)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
