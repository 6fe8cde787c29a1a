package storage

import (
	"errors"
	"io"
	"os"
	"syscall"
)

// appendFile copies the contents of srcPath onto the end of dst.
func appendFile(dst io.Writer, srcPath string) (int64, error) {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer srcFile.Close()

	return io.Copy(dst, srcFile)
}

// copyFile copies srcPath to destPath, truncating destPath if it exists.
func copyFile(srcPath string, destPath string) error {
	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = appendFile(destFile, srcPath)
	return err
}

// moveFile renames srcPath to destPath, falling back to copy and remove when
// the two live on different filesystems.
func moveFile(srcPath string, destPath string) error {
	if err := os.Rename(srcPath, destPath); err != nil {

		// If the source file lives on a different filesystem, fall back to
		// copying its contents into place instead of renaming.
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if copyErr := copyFile(srcPath, destPath); copyErr != nil {
				return copyErr
			}

			if rmErr := os.Remove(srcPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
			return nil
		}
		return err
	}

	return nil
}
