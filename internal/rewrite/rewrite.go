// Package rewrite produces the protected executable: a byte-identical copy
// of the input with each selected region's bytes replaced in place by
// ciphertext of the same length.
package rewrite

import (
	"fmt"
	"io"
	"os"

	"github.com/blockseal/blockseal/internal/blockcrypt"
	"github.com/blockseal/blockseal/internal/layout"
	"github.com/blockseal/blockseal/internal/license"
	"github.com/blockseal/blockseal/internal/region"
)

// A Rewriter splices encrypted regions into a copy of an executable. The
// license must be fully loaded before Encrypt runs; the rewriter owns the
// output handle exclusively for the duration of a run.
type Rewriter struct {
	Layout  layout.Layout
	Params  blockcrypt.Params
	License *license.License

	// OnRegion, if set, is called after each region has been written.
	OnRegion func(r region.Range, rawStart uint64)
}

// Encrypt copies srcPath to dstPath and overwrites every region's raw byte
// range with ciphertext under that region's derived key. Regions must be
// sorted ascending and non-overlapping; the verbatim-copy cursor depends on
// it, so the precondition is checked rather than assumed. Bytes outside the
// regions are identical to the source, and the output size always equals
// the input size.
func (rw *Rewriter) Encrypt(srcPath, dstPath string, regions []region.Range) error {
	if err := region.Validate(regions); err != nil {
		return fmt.Errorf("region set: %w", err)
	}

	if err := copyFile(srcPath, dstPath); err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat source %s: %w", srcPath, err)
	}
	size := uint64(info.Size())

	dst, err := os.OpenFile(dstPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("reopen output %s: %w", dstPath, err)
	}
	defer dst.Close()

	var cursor uint64
	for _, r := range regions {
		rawStart, err := rw.Layout.Raw(r.Start)
		if err != nil {
			return fmt.Errorf("region %s: %w", r, err)
		}
		if _, err := rw.Layout.Raw(r.End - 1); err != nil {
			return fmt.Errorf("region %s: %w", r, err)
		}
		rawEnd := rawStart + r.Size()
		if rawEnd > size {
			return fmt.Errorf("region %s: raw range [0x%x, 0x%x) past end of %d-byte file", r, rawStart, rawEnd, size)
		}

		// Copy through the gap since the previous region. The output
		// already holds these bytes from the initial copy; writing them
		// again keeps the cursor bookkeeping equal to the source stream
		// position.
		if rawStart > cursor {
			if err := copyThrough(dst, src, cursor, rawStart-cursor); err != nil {
				return err
			}
		}

		plaintext := make([]byte, r.Size())
		if _, err := src.ReadAt(plaintext, int64(rawStart)); err != nil {
			return fmt.Errorf("read region %s at 0x%x: %w", r, rawStart, err)
		}

		key, err := rw.Params.DeriveKey(r.Start, rw.License)
		if err != nil {
			return err
		}
		ciphertext, err := rw.Params.EncryptBlock(plaintext, key)
		if err != nil {
			return fmt.Errorf("encrypt region %s: %w", r, err)
		}
		if _, err := dst.WriteAt(ciphertext, int64(rawStart)); err != nil {
			return fmt.Errorf("write region %s at 0x%x: %w", r, rawStart, err)
		}
		cursor = rawEnd

		if rw.OnRegion != nil {
			rw.OnRegion(r, rawStart)
		}
	}

	if size > cursor {
		if err := copyThrough(dst, src, cursor, size-cursor); err != nil {
			return err
		}
	}

	if err := dst.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", dstPath, err)
	}
	return nil
}

// copyThrough copies length verbatim bytes at offset from src into dst.
func copyThrough(dst, src *os.File, offset, length uint64) error {
	if _, err := src.Seek(int64(offset), io.SeekStart); err != nil {
		return fmt.Errorf("seek source to 0x%x: %w", offset, err)
	}
	if _, err := dst.Seek(int64(offset), io.SeekStart); err != nil {
		return fmt.Errorf("seek output to 0x%x: %w", offset, err)
	}
	if _, err := io.CopyN(dst, src, int64(length)); err != nil {
		return fmt.Errorf("copy %d bytes at 0x%x: %w", length, offset, err)
	}
	return nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create output %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s to %s: %w", srcPath, dstPath, err)
	}
	return dst.Close()
}
