package room

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/flate"
	"gopkg.in/yaml.v3"

	"github.com/noteflow/syncd/internal/blobstore"
	"github.com/noteflow/syncd/internal/crdt"
	"github.com/noteflow/syncd/internal/fsabs"
	"github.com/noteflow/syncd/internal/fsabs/crdtfs"
)

// Snapshot exports/imports run klauspost/compress's flate, registered
// against archive/zip in place of the stdlib implementation, since
// workspace archives are dominated by plain-text entries that benefit
// from its faster ratio/speed tradeoff.
func init() {
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

// ImportMode selects how Import reconciles an uploaded ZIP against a
// room's current state.
type ImportMode string

const (
	// ImportReplace tombstones every entry not present in the archive
	// after applying it, so the workspace ends up containing exactly
	// the archive's entries.
	ImportReplace ImportMode = "replace"
	// ImportMerge applies each archived entry as an ordinary write,
	// leaving any entry absent from the archive untouched.
	ImportMerge ImportMode = "merge"
)

const attachmentsDir = "_attachments"

type exportFrontmatter struct {
	Title       string   `yaml:"title,omitempty"`
	PartOf      string   `yaml:"part_of,omitempty"`
	Contents    []string `yaml:"contents,omitempty"`
	Attachments []struct {
		Hash     string `yaml:"hash"`
		Filename string `yaml:"filename"`
	} `yaml:"attachments,omitempty"`
	Audience []string `yaml:"audience,omitempty"`
}

// Export builds a ZIP archive of every live entry in r: frontmatter and
// body text for each path, plus (when blobs is non-nil) the attachment
// bytes resolved from the blob store under _attachments/<hash>.
func Export(ctx context.Context, r *Room, blobs blobstore.Store) ([]byte, error) {
	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	seenHashes := make(map[string]bool)

	for _, entryPath := range r.MetaDoc().Paths() {
		entry, ok := r.MetaDoc().Entry(entryPath)
		if !ok || entry.Deleted {
			continue
		}

		data, err := encodeEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("room: encoding entry %s: %w", entryPath, err)
		}

		data = append(data, []byte(r.Get(entryPath).Text())...)

		w, err := zw.Create(entryPath)
		if err != nil {
			return nil, fmt.Errorf("room: creating zip entry %s: %w", entryPath, err)
		}

		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("room: writing zip entry %s: %w", entryPath, err)
		}

		if blobs == nil {
			continue
		}

		for _, ref := range entry.Attachments {
			hash, _ := crdtfs.DecodeAttachmentRef(ref)
			if hash == "" || seenHashes[hash] {
				continue
			}

			seenHashes[hash] = true

			if err := exportBlob(ctx, zw, blobs, hash); err != nil {
				return nil, err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("room: finalizing zip: %w", err)
	}

	return buf.Bytes(), nil
}

func exportBlob(ctx context.Context, zw *zip.Writer, blobs blobstore.Store, hash string) error {
	rc, err := blobs.Get(ctx, hash, 0, -1)
	if err != nil {
		return fmt.Errorf("room: reading blob %s for export: %w", hash, err)
	}
	defer rc.Close()

	w, err := zw.Create(path.Join(attachmentsDir, hash))
	if err != nil {
		return fmt.Errorf("room: creating zip attachment entry for %s: %w", hash, err)
	}

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("room: copying blob %s into zip: %w", hash, err)
	}

	return nil
}

func encodeEntry(entry crdt.EntryView) ([]byte, error) {
	fm := exportFrontmatter{
		Title:    entry.Title,
		PartOf:   entry.PartOf,
		Contents: entry.Contents,
		Audience: entry.Audience,
	}

	for _, ref := range entry.Attachments {
		hash, filename := crdtfs.DecodeAttachmentRef(ref)
		fm.Attachments = append(fm.Attachments, struct {
			Hash     string `yaml:"hash"`
			Filename string `yaml:"filename"`
		}{Hash: hash, Filename: filename})
	}

	yamlBytes, err := yaml.Marshal(fm)
	if err != nil {
		return nil, err
	}

	out := []byte("---\n")
	out = append(out, yamlBytes...)
	out = append(out, []byte("---\n")...)

	return out, nil
}

// Import applies the archive's entries to fsys, which must be the
// room's CRDT-capturing filesystem so each write converges into r's
// documents exactly as a local edit would. In ImportReplace mode, every
// path still live in r but absent from the archive is tombstoned once
// the archive's files are written. Returns the count of files written
// from the archive.
func Import(ctx context.Context, r *Room, fsys fsabs.FS, archive []byte, mode ImportMode, replica string) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return 0, fmt.Errorf("room: reading import archive: %w", err)
	}

	imported := make(map[string]bool)

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || path.Dir(f.Name) == attachmentsDir {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return 0, fmt.Errorf("room: opening archive entry %s: %w", f.Name, err)
		}

		data, err := io.ReadAll(rc)
		rc.Close()

		if err != nil {
			return 0, fmt.Errorf("room: reading archive entry %s: %w", f.Name, err)
		}

		if err := fsys.Write(ctx, f.Name, data); err != nil {
			return 0, fmt.Errorf("room: importing entry %s: %w", f.Name, err)
		}

		imported[f.Name] = true
	}

	if mode == ImportReplace {
		for _, entryPath := range r.MetaDoc().Paths() {
			entry, ok := r.MetaDoc().Entry(entryPath)
			if !ok || entry.Deleted || imported[entryPath] {
				continue
			}

			r.SetTombstone(entryPath, true, replica)
		}
	}

	return len(imported), nil
}
