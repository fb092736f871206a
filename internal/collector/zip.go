package collector

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"strings"

	verrors "vulnvault/internal/errors"
	"vulnvault/internal/model"
)

var reDriveLetter = regexp.MustCompile(`^[A-Za-z]:`)

// ValidateEntryName rejects archive entry names that would resolve outside
// the extraction root.
func ValidateEntryName(name string) error {
	n := strings.ReplaceAll(name, "\\", "/")
	switch {
	case strings.ContainsRune(n, 0):
		return &verrors.UnsafeInputError{Entry: name, Reason: "entry name contains NUL"}
	case strings.HasPrefix(n, "/"):
		return &verrors.UnsafeInputError{Entry: name, Reason: "absolute path"}
	case reDriveLetter.MatchString(n):
		return &verrors.UnsafeInputError{Entry: name, Reason: "drive-qualified path"}
	}
	cleaned := path.Clean(n)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return &verrors.UnsafeInputError{Entry: name, Reason: "path escapes extraction root"}
	}
	return nil
}

// FromZip collects the entries of a ZIP archive held in memory. Every entry
// name is validated before any content is read, so an adversarial archive
// yields no records at all.
func (c *Collector) FromZip(ctx context.Context, data []byte) (*Collection, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if errors.Is(err, zip.ErrInsecurePath) {
		return nil, &verrors.UnsafeInputError{Entry: "archive", Reason: err.Error()}
	}
	if err != nil {
		return nil, verrors.NewInputError("archive", verrors.ErrUnsupportedFileType, err.Error())
	}

	for _, f := range zr.File {
		if err := ValidateEntryName(f.Name); err != nil {
			return nil, err
		}
		if f.Mode()&fs.ModeSymlink != 0 {
			return nil, &verrors.UnsafeInputError{Entry: f.Name, Reason: "symbolic link"}
		}
	}

	col := &Collection{}
	for _, f := range zr.File {
		if err := ctxErr(ctx); err != nil {
			return col, err
		}
		if f.FileInfo().IsDir() || inIgnoredDir(f.Name) {
			continue
		}
		content, inErr := c.readEntry(f)
		if inErr != nil {
			c.logger.Warn("skipping archive entry", "path", f.Name, "error", inErr)
			col.skip(inErr)
			continue
		}
		if !col.add(c.limits, model.NewSourceRecord(f.Name, content)) {
			break
		}
	}
	return col, nil
}

// readEntry enforces the size limit on the decompressed stream; the header's
// declared size is not trusted.
func (c *Collector) readEntry(f *zip.File) ([]byte, *verrors.InputError) {
	rc, err := f.Open()
	if err != nil {
		return nil, verrors.NewInputError(f.Name, verrors.ErrUnreadable, err.Error())
	}
	defer rc.Close()

	var r io.Reader = rc
	if c.limits.MaxFileBytes > 0 {
		r = io.LimitReader(rc, c.limits.MaxFileBytes+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, verrors.NewInputError(f.Name, verrors.ErrUnreadable, err.Error())
	}
	if inErr := c.checkEntry(f.Name, int64(len(content)), content); inErr != nil {
		return nil, inErr
	}
	return content, nil
}

func inIgnoredDir(name string) bool {
	parts := strings.Split(strings.ReplaceAll(name, "\\", "/"), "/")
	for _, p := range parts[:len(parts)-1] {
		if IgnoredDir(p) {
			return true
		}
	}
	return false
}

// BuildZip packages entries into an in-memory archive, in the given order.
// Mostly used by tests.
func BuildZip(entries map[string][]byte, order []string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := w.Write(entries[name]); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
