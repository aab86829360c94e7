package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CapabilityWriteFile is the built-in local file-writing capability.
const CapabilityWriteFile = "write_file"

// WriteFileHandler returns the local write_file capability. It creates the
// destination's parent directories as needed and fully replaces any existing
// file, so repeating the same directive yields the same final state.
//
// When root is non-empty, paths are resolved inside it and directives that
// escape it are rejected. When root is empty, model-supplied paths are
// honored as-is; callers accepting untrusted model output should set a root.
func WriteFileHandler(root string) Handler {
	return func(ctx context.Context, args map[string]any) error {
		path, err := stringArg(args, "path")
		if err != nil {
			return err
		}
		content, err := stringArg(args, "content")
		if err != nil {
			return err
		}

		target := path
		if root != "" {
			target, err = containPath(root, path)
			if err != nil {
				return err
			}
		}

		if dir := filepath.Dir(target); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return newDispatchError(CodeIO, "create parent directory", err)
			}
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return newDispatchError(CodeIO, "write file", err)
		}
		return nil
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	value, ok := args[key]
	if !ok {
		return "", newDispatchError(CodeArgumentInvalid,
			fmt.Sprintf("missing required argument %q", key), nil)
	}
	text, ok := value.(string)
	if !ok {
		return "", newDispatchError(CodeArgumentInvalid,
			fmt.Sprintf("argument %q must be a string", key), nil)
	}
	if key == "path" && strings.TrimSpace(text) == "" {
		return "", newDispatchError(CodeArgumentInvalid, "path is empty", nil)
	}
	return text, nil
}

// containPath resolves path inside root and rejects escapes.
func containPath(root, path string) (string, error) {
	base, err := filepath.Abs(root)
	if err != nil {
		return "", newDispatchError(CodeIO, "resolve workspace root", err)
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", newDispatchError(CodeArgumentInvalid,
			fmt.Sprintf("path %q escapes workspace root", path), err)
	}
	return target, nil
}
