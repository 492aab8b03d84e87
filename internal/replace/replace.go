// Package replace swaps an encoded output into the original file's
// place. The original is parked as a timestamped backup first so every
// step can be rolled back.
package replace

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Options controls replacement behavior.
type Options struct {
	// KeepOriginal leaves the backup file on disk after a successful
	// swap instead of deleting it.
	KeepOriginal bool
}

// BackupPath returns the parking path for the original file.
func BackupPath(originalPath string, now time.Time) string {
	return originalPath + ".orig." + strconv.FormatInt(now.Unix(), 10)
}

// Replace moves encodedPath into originalPath's place. The original is
// first renamed to a backup; if installing the encoded file fails the
// backup is restored, so originalPath always holds a playable file.
// On success the encoded temp file is gone and, unless KeepOriginal is
// set, so is the backup.
func Replace(originalPath, encodedPath string, opts Options) error {
	backupPath := BackupPath(originalPath, time.Now())

	if err := moveFile(originalPath, backupPath); err != nil {
		return fmt.Errorf("park original %s: %w", originalPath, err)
	}

	if err := moveFile(encodedPath, originalPath); err != nil {
		if restoreErr := moveFile(backupPath, originalPath); restoreErr != nil {
			return fmt.Errorf("install encoded file: %w (restore failed: %v)", err, restoreErr)
		}
		return fmt.Errorf("install encoded file: %w (original restored)", err)
	}

	if !opts.KeepOriginal {
		if err := os.Remove(backupPath); err != nil {
			return fmt.Errorf("remove backup %s: %w", backupPath, err)
		}
	}
	return nil
}

// moveFile renames src to dst, falling back to copy-and-delete when
// rename fails (src and dst on different filesystems).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy %s: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("sync destination %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("close destination %s: %w", dst, err)
	}
	return nil
}
