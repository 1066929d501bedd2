package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		fullPath := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte("# Test"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"note1.md",
		"folder/note2.md",
		"folder/deeper/note3.MD",
		"folder/image.png",
		".obsidian/config.md",
		".git/HEAD.md",
	)

	files, err := Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	var got []ScannedFile
	for _, f := range files {
		got = append(got, ScannedFile{RelPath: f.RelPath, Folder: f.Folder})
	}
	want := []ScannedFile{
		{RelPath: "folder/deeper/note3.MD", Folder: "folder/deeper"},
		{RelPath: "folder/note2.md", Folder: "folder"},
		{RelPath: "note1.md", Folder: ""},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan() = %+v, want %+v", got, want)
	}
	for _, f := range files {
		if !filepath.IsAbs(f.AbsPath) {
			t.Errorf("AbsPath %q is not absolute", f.AbsPath)
		}
	}
	if title := files[0].Title(); title != "note3" {
		t.Errorf("Title() = %q, want note3", title)
	}
}

func TestScan_Errors(t *testing.T) {
	root := t.TempDir()
	if _, err := Scan(context.Background(), filepath.Join(root, "missing")); err == nil {
		t.Error("Scan() of missing root: expected error")
	}

	file := filepath.Join(root, "file.md")
	writeTree(t, root, "file.md")
	if _, err := Scan(context.Background(), file); err == nil {
		t.Error("Scan() of a file: expected error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Scan(ctx, root); !errors.Is(err, context.Canceled) {
		t.Errorf("Scan() with canceled context error = %v, want context.Canceled", err)
	}
}
