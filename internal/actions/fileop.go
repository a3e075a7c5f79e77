package actions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/deskhand/internal/model"
)

// FileOperator performs file_operation actions confined to the vault root.
// Paths in action data are vault-relative; anything resolving outside the
// root is refused.
type FileOperator struct {
	root   string
	logger *slog.Logger
}

func NewFileOperator(vaultRoot string, logger *slog.Logger) *FileOperator {
	return &FileOperator{root: vaultRoot, logger: logger}
}

func (f *FileOperator) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	abs := filepath.Join(f.root, filepath.Clean("/"+rel))
	rootAbs, err := filepath.Abs(f.root)
	if err != nil {
		return "", err
	}
	absResolved, err := filepath.Abs(abs)
	if err != nil {
		return "", err
	}
	if absResolved != rootAbs && !strings.HasPrefix(absResolved, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the vault", rel)
	}
	return absResolved, nil
}

func (f *FileOperator) Execute(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
	op, _ := action.ActionData["operation"].(string)
	relPath, _ := action.ActionData["path"].(string)
	path, err := f.resolve(relPath)
	if err != nil {
		return err
	}

	switch op {
	case "create":
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("create: %s already exists", relPath)
		}
		fallthrough
	case "update":
		content, _ := action.ActionData["content"].(string)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("%s %s: %w", op, relPath, err)
		}
	case "move":
		destRel, _ := action.ActionData["dest"].(string)
		dest, err := f.resolve(destRel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("move: %w", err)
		}
		if err := os.Rename(path, dest); err != nil {
			return fmt.Errorf("move %s to %s: %w", relPath, destRel, err)
		}
	default:
		return fmt.Errorf("unsupported file operation %q", op)
	}

	f.logger.Info("file operation done", "operation", op, "path", relPath)
	return nil
}
