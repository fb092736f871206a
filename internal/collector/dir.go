package collector

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	verrors "vulnvault/internal/errors"
	"vulnvault/internal/model"
)

// FromDir walks a working tree in lexical order. Symbolic links are never
// followed and ignored directories are pruned.
func (c *Collector) FromDir(ctx context.Context, root string) (*Collection, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, verrors.NewInputError(root, verrors.ErrUnreadable, err.Error())
	}
	if !info.IsDir() {
		return nil, verrors.NewInputError(root, verrors.ErrUnsupportedFileType, "not a directory")
	}

	col := &Collection{}
	errStop := fs.SkipAll
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if walkErr != nil {
			col.skip(verrors.NewInputError(rel, verrors.ErrUnreadable, walkErr.Error()))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != root && IgnoredDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			col.skip(verrors.NewInputError(rel, verrors.ErrUnreadable, err.Error()))
			return nil
		}
		if inErr := c.checkEntry(rel, fi.Size(), nil); inErr != nil {
			c.logger.Warn("skipping file", "path", rel, "error", inErr)
			col.skip(inErr)
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			col.skip(verrors.NewInputError(rel, verrors.ErrUnreadable, err.Error()))
			return nil
		}
		if inErr := c.checkEntry(rel, int64(len(content)), content); inErr != nil {
			c.logger.Warn("skipping file", "path", rel, "error", inErr)
			col.skip(inErr)
			return nil
		}
		if !col.add(c.limits, model.NewSourceRecord(rel, content)) {
			return errStop
		}
		return nil
	})
	if err != nil && err != errStop {
		return col, err
	}
	return col, nil
}
