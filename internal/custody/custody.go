// Package custody moves document files between the watch folder, staging,
// archive and the final storage tree without ever losing or overwriting one.
package custody

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
)

const maxSuffix = 1000

// Move transfers src to dst and returns the path actually used. When dst is
// taken the name gets a _1, _2 ... suffix. Across filesystems the file is
// copied, synced, verified by checksum and only then removed from src.
// Any failure leaves src in place and returns ErrFileMove.
func Move(src, dst string) (string, error) {
	if _, err := os.Stat(src); err != nil {
		return "", apperrors.ErrFileMove.WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", apperrors.ErrFileMove.WithCause(err)
	}

	target, err := reserve(dst)
	if err != nil {
		return "", apperrors.ErrFileMove.WithCause(err)
	}

	if err := os.Rename(src, target); err == nil {
		return target, nil
	} else if !isCrossDevice(err) {
		os.Remove(target)
		return "", apperrors.ErrFileMove.WithCause(err)
	}

	if err := copyVerified(src, target); err != nil {
		os.Remove(target)
		return "", apperrors.ErrFileMove.WithCause(err)
	}
	if err := os.Remove(src); err != nil {
		// both copies exist; keep src authoritative
		os.Remove(target)
		return "", apperrors.ErrFileMove.WithCause(err)
	}
	return target, nil
}

// reserve claims the first free name derived from dst by creating an empty
// placeholder, so concurrent movers never pick the same path.
func reserve(dst string) (string, error) {
	dir := filepath.Dir(dst)
	ext := filepath.Ext(dst)
	base := strings.TrimSuffix(filepath.Base(dst), ext)

	for i := 0; i < maxSuffix; i++ {
		candidate := dst
		if i > 0 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		}
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %s", dst)
}

func copyVerified(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	srcHash := md5.New()
	if _, err := io.Copy(out, io.TeeReader(in, srcHash)); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	dstSum, err := MD5File(dst)
	if err != nil {
		return err
	}
	if dstSum != hex.EncodeToString(srcHash.Sum(nil)) {
		return fmt.Errorf("checksum mismatch after copy to %s", dst)
	}
	return nil
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return false
}

// MD5File returns the hex md5 of a file's content
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
