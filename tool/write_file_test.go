package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileCreatesParentsAndContent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out", "nested", "a.txt")
	handler := WriteFileHandler("")

	err := handler(context.Background(), map[string]any{
		"path":    target,
		"content": "hi",
	})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("content = %q, want %q", data, "hi")
	}
}

func TestWriteFileIsIdempotentReplacement(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.txt")
	handler := WriteFileHandler("")
	args := map[string]any{"path": target, "content": "final"}

	if err := handler(context.Background(), map[string]any{"path": target, "content": "earlier, longer content"}); err != nil {
		t.Fatalf("first write error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := handler(context.Background(), args); err != nil {
			t.Fatalf("write %d error = %v", i, err)
		}
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "final" {
		t.Fatalf("content = %q, want full replacement %q", data, "final")
	}
}

func TestWriteFileMissingArguments(t *testing.T) {
	handler := WriteFileHandler("")

	for name, args := range map[string]map[string]any{
		"no path":        {"content": "hi"},
		"no content":     {"path": "a.txt"},
		"path not text":  {"path": 42, "content": "hi"},
		"empty path":     {"path": "  ", "content": "hi"},
		"content number": {"path": "a.txt", "content": 7},
	} {
		err := handler(context.Background(), args)
		var dispatchErr *DispatchError
		if !errors.As(err, &dispatchErr) {
			t.Fatalf("%s: error = %v, want *DispatchError", name, err)
		}
		if dispatchErr.Code != CodeArgumentInvalid {
			t.Fatalf("%s: code = %q, want %q", name, dispatchErr.Code, CodeArgumentInvalid)
		}
	}
}

func TestWriteFileContainmentResolvesInsideRoot(t *testing.T) {
	root := t.TempDir()
	handler := WriteFileHandler(root)

	err := handler(context.Background(), map[string]any{
		"path":    "haikus/latest.txt",
		"content": "ok",
	})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "haikus", "latest.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "ok" {
		t.Fatalf("content = %q, want ok", data)
	}
}

func TestWriteFileContainmentRejectsEscape(t *testing.T) {
	root := t.TempDir()
	handler := WriteFileHandler(root)

	for _, path := range []string{
		"../outside.txt",
		"a/../../outside.txt",
		"/etc/passwd",
	} {
		err := handler(context.Background(), map[string]any{"path": path, "content": "x"})
		var dispatchErr *DispatchError
		if !errors.As(err, &dispatchErr) {
			t.Fatalf("path %q: error = %v, want *DispatchError", path, err)
		}
		if dispatchErr.Code != CodeArgumentInvalid {
			t.Fatalf("path %q: code = %q, want %q", path, dispatchErr.Code, CodeArgumentInvalid)
		}
	}
}
