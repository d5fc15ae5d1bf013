package checks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileChecker(t *testing.T) {
	if err := FileChecker("/tmp").Check(context.Background()); err == nil {
		t.Errorf("/tmp was expected as exists")
	}

	if err := FileChecker("NoSuchFileFromMoon").Check(context.Background()); err != nil {
		t.Errorf("NoSuchFileFromMoon was expected as not exists, error:%v", err)
	}
}

func TestInstallDirChecker(t *testing.T) {
	dir := t.TempDir()
	if err := InstallDirChecker(dir).Check(context.Background()); err != nil {
		t.Errorf("expected a fresh temp dir to pass, got: %v", err)
	}

	if err := InstallDirChecker(filepath.Join(dir, "does-not-exist")).Check(context.Background()); err == nil {
		t.Error("expected a missing directory to fail")
	}

	file := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := InstallDirChecker(file).Check(context.Background()); err == nil {
		t.Error("expected a plain file to fail as not-a-directory")
	}
}

func TestHTTPChecker(t *testing.T) {
	if err := HTTPChecker("https://www.google.cybertron", 200, 0, nil).Check(context.Background()); err == nil {
		t.Errorf("Google on Cybertron was expected as not exists")
	}

	if err := HTTPChecker("https://www.google.pt", 200, 0, nil).Check(context.Background()); err != nil {
		t.Errorf("Google at Portugal was expected as exists, error:%v", err)
	}
}
