// Package backup provides tar.gz-based backup and restore for the GateSync
// database and its config file.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/HerbHall/gatesync/internal/store"
)

// maxEntrySize bounds a single restored file.
const maxEntrySize = 8 << 30

// Backup creates a tar.gz archive containing the SQLite database and an
// optional config file. The WAL is checkpointed first so the copied
// database file is complete.
func Backup(ctx context.Context, dbPath, configPath, outputPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database file not found: %w", err)
	}

	if err := checkpoint(ctx, dbPath); err != nil {
		return err
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if err := addFileToTar(tw, dbPath, filepath.Base(dbPath)); err != nil {
		return fmt.Errorf("adding database to archive: %w", err)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := addFileToTar(tw, configPath, filepath.Base(configPath)); err != nil {
				return fmt.Errorf("adding config to archive: %w", err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return outFile.Close()
}

// Restore extracts a Backup archive into dataDir. Existing files are only
// replaced when force is set.
func Restore(_ context.Context, archivePath, dataDir string, force bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	tr := tar.NewReader(gr)
	restored := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !filepath.IsLocal(hdr.Name) || filepath.Base(hdr.Name) != hdr.Name {
			return fmt.Errorf("archive entry %q is not a plain file name", hdr.Name)
		}
		target := filepath.Join(dataDir, hdr.Name)
		if err := extract(tr, target, hdr, force); err != nil {
			return err
		}
		restored++
	}
	if restored == 0 {
		return fmt.Errorf("archive %s contains no files", archivePath)
	}
	return nil
}

func checkpoint(ctx context.Context, dbPath string) error {
	s, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()
	if err := s.Checkpoint(ctx); err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}
	return nil
}

func extract(r io.Reader, target string, hdr *tar.Header, force bool) error {
	if hdr.Size > maxEntrySize {
		return fmt.Errorf("archive entry %q is too large", hdr.Name)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	out, err := os.OpenFile(target, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", target)
		}
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, io.LimitReader(r, hdr.Size)); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return out.Close()
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}
