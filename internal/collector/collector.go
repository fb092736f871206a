// Package collector turns scan inputs (a single file, a ZIP archive or a
// directory tree) into an ordered list of source records.
package collector

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	verrors "vulnvault/internal/errors"
	"vulnvault/internal/model"
	"vulnvault/internal/vuln"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Limits bounds how much input a single scan may pull into memory.
type Limits struct {
	MaxFileBytes  int64
	MaxTotalBytes int64
	MaxFiles      int
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:  1 << 20,
		MaxTotalBytes: 64 << 20,
		MaxFiles:      2000,
	}
}

// Collection is the output of one collection pass.
type Collection struct {
	Records []model.SourceRecord
	// Warnings describe skipped units, one line each.
	Warnings []string
	// Truncated is set when MaxFiles or MaxTotalBytes stopped collection early.
	Truncated bool
	// Skipped counts units left out because of an input error.
	Skipped int

	errs       []error
	totalBytes int64
}

// Err aggregates every per-unit input error recorded during collection.
func (c *Collection) Err() error {
	return utilerrors.NewAggregate(c.errs)
}

func (c *Collection) skip(err *verrors.InputError) {
	c.errs = append(c.errs, err)
	c.Skipped++
	c.Warnings = append(c.Warnings, "skipped "+err.Error())
}

// add appends a record unless a limit is reached. It returns false once
// collection must stop.
func (c *Collection) add(limits Limits, rec model.SourceRecord) bool {
	if limits.MaxFiles > 0 && len(c.Records) >= limits.MaxFiles {
		c.Truncated = true
		c.Warnings = append(c.Warnings, fmt.Sprintf("file limit of %d reached, remaining entries not scanned", limits.MaxFiles))
		return false
	}
	size := int64(len(rec.Content))
	if limits.MaxTotalBytes > 0 && c.totalBytes+size > limits.MaxTotalBytes {
		c.Truncated = true
		c.Warnings = append(c.Warnings, fmt.Sprintf("total size limit of %d bytes reached, remaining entries not scanned", limits.MaxTotalBytes))
		return false
	}
	c.totalBytes += size
	c.Records = append(c.Records, rec)
	return true
}

// Collector applies Limits and the ignore rules to every input kind.
type Collector struct {
	limits Limits
	logger *slog.Logger
}

// New returns a Collector. A nil logger uses slog.Default().
func New(limits Limits, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{limits: limits, logger: logger}
}

var ignoredDirs = sets.New(
	".git",
	".hg",
	".svn",
	"node_modules",
	"vendor",
	"dist",
	"build",
	"__pycache__",
	".venv",
	"venv",
	".tox",
	".idea",
	".vscode",
)

// IgnoredDir reports whether a directory name is never descended into.
func IgnoredDir(name string) bool {
	return ignoredDirs.Has(name)
}

// IsManifest reports whether path names a dependency manifest the resolver
// understands.
func IsManifest(path string) bool {
	_, ok := vuln.DetectManifest(path)
	return ok
}

const sniffLen = 8000

// IsBinary reports whether content looks like non-text data.
func IsBinary(content []byte) bool {
	sniff := content
	if len(sniff) > sniffLen {
		sniff = sniff[:sniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return true
	}
	if utf8.Valid(sniff) {
		return false
	}
	control := 0
	for _, b := range sniff {
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			control++
		}
	}
	return control*10 > len(sniff)
}

// FromFile collects a single uploaded file. Unlike archive entries, a single
// file that cannot be scanned fails the request.
func (c *Collector) FromFile(name string, data []byte) (*Collection, error) {
	rec := model.NewSourceRecord(name, data)
	if c.limits.MaxFileBytes > 0 && int64(len(data)) > c.limits.MaxFileBytes {
		return nil, verrors.NewInputError(rec.Path, verrors.ErrPayloadTooLarge,
			fmt.Sprintf("file is %d bytes, limit is %d", len(data), c.limits.MaxFileBytes))
	}
	if IsBinary(data) {
		return nil, verrors.NewInputError(rec.Path, verrors.ErrUnsupportedFileType, "binary content cannot be scanned")
	}
	col := &Collection{}
	col.add(Limits{}, rec)
	return col, nil
}

// checkEntry applies the per-entry filters shared by archives and directory
// trees. It returns a non-nil InputError when the entry must be skipped.
func (c *Collector) checkEntry(path string, size int64, content []byte) *verrors.InputError {
	if c.limits.MaxFileBytes > 0 && size > c.limits.MaxFileBytes {
		return verrors.NewInputError(path, verrors.ErrPayloadTooLarge,
			fmt.Sprintf("limit is %d bytes", c.limits.MaxFileBytes))
	}
	if content != nil && IsBinary(content) {
		return verrors.NewInputError(path, verrors.ErrUnsupportedFileType, "binary content")
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
