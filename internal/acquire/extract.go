package acquire

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/BadgerOps/repofetch/internal/fetcherr"
	"github.com/BadgerOps/repofetch/internal/github"
	"github.com/BadgerOps/repofetch/internal/safety"
)

// extractArchive unpacks archivePath into destDir using the packaging
// matching format. It returns the number of regular files written.
func (a *Acquirer) extractArchive(archivePath, destDir string, format github.Format) (int, error) {
	if err := a.fs.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("creating staging directory: %w", err)
	}
	if format == github.FormatZipball {
		return a.extractZip(archivePath, destDir)
	}
	return a.extractTarGz(archivePath, destDir)
}

func (a *Acquirer) extractTarGz(archivePath, destDir string) (int, error) {
	f, err := a.fs.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() {
		_ = zr.Close()
	}()

	tr := tar.NewReader(zr)
	extracted := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, fmt.Errorf("reading tar entry: %w", err)
		}

		switch header.Typeflag {
		case tar.TypeXGlobalHeader:
			// GitHub stores the commit id here; it is not a file.
			continue
		case tar.TypeDir:
			dir, err := safety.SafeJoinUnder(destDir, header.Name)
			if err != nil {
				return extracted, fmt.Errorf("unsafe path in archive %q: %w", header.Name, err)
			}
			if err := a.rejectLinkedPath(destDir, dir, header.Name); err != nil {
				return extracted, err
			}
			if err := a.fs.MkdirAll(dir, 0o755); err != nil {
				return extracted, fmt.Errorf("creating directory: %w", err)
			}
		case tar.TypeReg:
			if err := a.writeEntry(destDir, header.Name, header.FileInfo().Mode().Perm(), tr); err != nil {
				return extracted, err
			}
			extracted++
		case tar.TypeSymlink:
			if err := a.writeSymlink(destDir, header.Name, header.Linkname); err != nil {
				return extracted, err
			}
		default:
			a.logger.Debug("skipping unsupported tar entry", "name", header.Name, "type", string(header.Typeflag))
		}
	}

	return extracted, nil
}

func (a *Acquirer) extractZip(archivePath, destDir string) (int, error) {
	f, err := a.fs.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return 0, fmt.Errorf("opening zip: %w", err)
	}

	extracted := 0
	for _, entry := range zr.File {
		mode := entry.Mode()
		switch {
		case mode.IsDir():
			dir, err := safety.SafeJoinUnder(destDir, entry.Name)
			if err != nil {
				return extracted, fmt.Errorf("unsafe path in archive %q: %w", entry.Name, err)
			}
			if err := a.rejectLinkedPath(destDir, dir, entry.Name); err != nil {
				return extracted, err
			}
			if err := a.fs.MkdirAll(dir, 0o755); err != nil {
				return extracted, fmt.Errorf("creating directory: %w", err)
			}
		case mode&fs.ModeSymlink != 0:
			target, err := readZipEntry(entry)
			if err != nil {
				return extracted, err
			}
			if err := a.writeSymlink(destDir, entry.Name, target); err != nil {
				return extracted, err
			}
		default:
			rc, err := entry.Open()
			if err != nil {
				return extracted, fmt.Errorf("opening %s: %w", entry.Name, err)
			}
			perm := mode.Perm()
			if perm == 0 {
				perm = 0o644
			}
			err = a.writeEntry(destDir, entry.Name, perm, rc)
			_ = rc.Close()
			if err != nil {
				return extracted, err
			}
			extracted++
		}
	}

	return extracted, nil
}

func readZipEntry(entry *zip.File) (string, error) {
	rc, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", entry.Name, err)
	}
	defer func() {
		_ = rc.Close()
	}()
	data, err := safety.ReadAllWithLimit(rc, 4096)
	if err != nil {
		return "", fmt.Errorf("reading link %s: %w", entry.Name, err)
	}
	return string(data), nil
}

func (a *Acquirer) writeEntry(destDir, name string, perm os.FileMode, r io.Reader) error {
	destPath, err := safety.SafeJoinUnder(destDir, name)
	if err != nil {
		return fmt.Errorf("unsafe path in archive %q: %w", name, err)
	}
	if err := a.rejectLinkedPath(destDir, destPath, name); err != nil {
		return err
	}
	if err := a.fs.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	out, err := a.fs.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", destPath, err)
	}
	_, err = io.Copy(out, r)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("extracting %s: %w", name, err)
	}
	return nil
}

// writeSymlink creates a link whose target stays inside the archive's
// top-level directory. Links are skipped on filesystems without symlink
// support.
func (a *Acquirer) writeSymlink(destDir, name, target string) error {
	linkPath, err := safety.SafeJoinUnder(destDir, name)
	if err != nil {
		return fmt.Errorf("unsafe path in archive %q: %w", name, err)
	}
	if err := a.rejectLinkedPath(destDir, linkPath, name); err != nil {
		return err
	}
	if filepath.IsAbs(target) || strings.HasPrefix(filepath.ToSlash(target), "/") {
		return fmt.Errorf("absolute symlink target in archive %q -> %q", name, target)
	}

	rel, err := filepath.Rel(destDir, linkPath)
	if err != nil {
		return fmt.Errorf("unsafe path in archive %q: %w", name, err)
	}
	root := filepath.Join(destDir, strings.SplitN(rel, string(filepath.Separator), 2)[0])

	// Walk the target one component at a time. Every step must stay under
	// root and must not be a link.
	cur := filepath.Dir(linkPath)
	for _, part := range strings.Split(filepath.ToSlash(target), "/") {
		if part == "" || part == "." {
			continue
		}
		cur = filepath.Join(cur, part)
		if !within(root, cur) {
			return fmt.Errorf("symlink escapes archive root %q -> %q", name, target)
		}
		if part == ".." {
			continue
		}
		linked, err := a.isSymlink(cur)
		if err != nil {
			return err
		}
		if linked {
			return fmt.Errorf("symlink target passes through another link %q -> %q", name, target)
		}
	}

	linker, ok := a.fs.(afero.Linker)
	if !ok {
		a.logger.Debug("filesystem cannot create symlinks, skipping", "name", name)
		return nil
	}
	if err := a.fs.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := linker.SymlinkIfPossible(target, linkPath); err != nil {
		return fmt.Errorf("creating symlink %s: %w", name, err)
	}
	return nil
}

// rejectLinkedPath fails when path, or any directory between destDir and
// path, is a symlink created by an earlier entry.
func (a *Acquirer) rejectLinkedPath(destDir, path, name string) error {
	rel, err := filepath.Rel(destDir, path)
	if err != nil || rel == "." {
		return nil
	}
	cur := destDir
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		linked, err := a.isSymlink(cur)
		if err != nil {
			return err
		}
		if linked {
			return fmt.Errorf("unsafe path in archive %q: passes through symlink", name)
		}
	}
	return nil
}

// isSymlink reports whether path exists and is a symlink. Missing paths and
// filesystems without Lstat report false.
func (a *Acquirer) isSymlink(path string) (bool, error) {
	lstater, ok := a.fs.(afero.Lstater)
	if !ok {
		return false, nil
	}
	info, _, err := lstater.LstatIfPossible(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// locateRoot returns the single top-level entry of dir.
func (a *Acquirer) locateRoot(dir string) (string, error) {
	entries, err := afero.ReadDir(a.fs, dir)
	if err != nil {
		return "", fmt.Errorf("reading staging directory: %w", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return "", &fetcherr.ArchiveLayoutError{Entries: names}
	}
	return entries[0].Name(), nil
}

// relocate moves, or copies when a.copyOnRelocate is set, every child of
// srcDir into targetDir. Existing entries with the same name are replaced.
func (a *Acquirer) relocate(srcDir, targetDir string) error {
	entries, err := afero.ReadDir(a.fs, srcDir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", srcDir, err)
	}

	for _, e := range entries {
		src := filepath.Join(srcDir, e.Name())
		dst := filepath.Join(targetDir, e.Name())

		if _, err := a.fs.Stat(dst); err == nil {
			a.logger.Debug("replacing existing entry", "path", dst)
			if err := a.fs.RemoveAll(dst); err != nil {
				return fmt.Errorf("removing %s: %w", dst, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", dst, err)
		}

		if a.copyOnRelocate {
			err = a.copyTree(src, dst)
		} else {
			err = a.fs.Rename(src, dst)
		}
		if err != nil {
			return fmt.Errorf("relocating %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (a *Acquirer) copyTree(src, dst string) error {
	return afero.Walk(a.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return a.fs.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return a.copyLink(path, target)
		}

		in, err := a.fs.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			_ = in.Close()
		}()

		out, err := a.fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		_, err = io.Copy(out, in)
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		return err
	})
}

func (a *Acquirer) copyLink(src, dst string) error {
	reader, ok := a.fs.(afero.LinkReader)
	if !ok {
		return nil
	}
	linker, ok := a.fs.(afero.Linker)
	if !ok {
		return nil
	}
	target, err := reader.ReadlinkIfPossible(src)
	if err != nil {
		return err
	}
	return linker.SymlinkIfPossible(target, dst)
}
