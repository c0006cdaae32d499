package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// runCopyRules mirrors each configured source tree into the output
// directory. A missing source is skipped rather than failing the build.
func (o *Orchestrator) runCopyRules(ctx context.Context) error {
	for _, rule := range o.cfg.Build.Copy {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := os.Stat(rule.From); os.IsNotExist(err) {
			continue
		}
		dest := filepath.Join(o.cfg.Build.OutDir, rule.To)
		if err := copyTree(rule.From, dest); err != nil {
			return fmt.Errorf("copying %s to %s: %w", rule.From, rule.To, err)
		}
	}
	return nil
}

// copyTree recursively copies src into dest, replacing prior contents. The
// copy is staged in a sibling temp directory and renamed into place so the
// static server never observes a half-written tree.
func copyTree(src, dest string) error {
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}

	staging, err := os.MkdirTemp(parent, ".copy-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := copyInto(src, staging); err != nil {
		return err
	}

	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	return os.Rename(staging, dest)
}

func copyInto(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
