// Package export turns the source buffers into downloadable files.
package export

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/conneroisu/panes/internal/buffer"
	"github.com/conneroisu/panes/internal/compose"
	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/types"
)

// Downloader delivers one file to the user.
type Downloader interface {
	Download(filename, content, mimeType string) error
}

// Sources are the three buffer texts being exported.
type Sources struct {
	Markup string
	Style  string
	Script string
}

// FromBuffers collects the sources from a store snapshot.
func FromBuffers(buffers []buffer.SourceBuffer) Sources {
	var src Sources
	for _, b := range buffers {
		switch b.Slot {
		case types.SlotMarkup:
			src.Markup = b.Text
		case types.SlotStyle:
			src.Style = b.Text
		case types.SlotScript:
			src.Script = b.Text
		}
	}
	return src
}

// File is one exportable artifact.
type File struct {
	Name string
	MIME string
	// Slot is the buffer exported verbatim; Bundle files have none.
	Slot   types.Slot
	Bundle bool
}

// Files lists every export in menu order.
var Files = []File{
	{Name: "cod.html", MIME: "text/html", Slot: types.SlotMarkup},
	{Name: "stil.css", MIME: "text/css", Slot: types.SlotStyle},
	{Name: "script.js", MIME: "text/javascript", Slot: types.SlotScript},
	{Name: "proiect.html", MIME: "text/html", Bundle: true},
}

// Lookup finds the export named name.
func Lookup(name string) (File, error) {
	for _, f := range Files {
		if f.Name == name {
			return f, nil
		}
	}
	return File{}, errors.NewValidationError(errors.ErrCodeInvalidArgument, "unknown export "+strconv.Quote(name)).
		WithContext("file", name)
}

// Content renders the file's text from src.
func (f File) Content(src Sources) string {
	if f.Bundle {
		return compose.Bundle(src.Markup, src.Style, src.Script)
	}
	switch f.Slot {
	case types.SlotMarkup:
		return src.Markup
	case types.SlotStyle:
		return src.Style
	default:
		return src.Script
	}
}

// Export delivers the named file through d.
func Export(d Downloader, name string, src Sources) error {
	f, err := Lookup(name)
	if err != nil {
		return err
	}
	return d.Download(f.Name, f.Content(src), f.MIME)
}

// All delivers every file through d, stopping at the first failure.
func All(d Downloader, src Sources) error {
	for _, f := range Files {
		if err := d.Download(f.Name, f.Content(src), f.MIME); err != nil {
			return fmt.Errorf("export %s: %w", f.Name, err)
		}
	}
	return nil
}

// HTTPDownloader writes the file as an attachment response.
type HTTPDownloader struct {
	W http.ResponseWriter
}

// Download implements Downloader.
func (h HTTPDownloader) Download(filename, content, mimeType string) error {
	header := h.W.Header()
	header.Set("Content-Type", mime.FormatMediaType(mimeType, map[string]string{"charset": "utf-8"}))
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	header.Set("Content-Length", strconv.Itoa(len(content)))
	header.Set("X-Content-Type-Options", "nosniff")
	h.W.WriteHeader(http.StatusOK)
	_, err := h.W.Write([]byte(content))
	return err
}

// DirDownloader writes files into a directory, creating it if needed.
type DirDownloader struct {
	Dir string
	// Overwrite allows replacing existing files.
	Overwrite bool
	// Written collects the paths written so far.
	Written []string
}

// Download implements Downloader. Only the base name of filename is used.
func (d *DirDownloader) Download(filename, content, _ string) error {
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(d.Dir, filepath.Base(filename))
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !d.Overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	d.Written = append(d.Written, path)
	return nil
}
