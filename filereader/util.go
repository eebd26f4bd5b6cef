package filereader

import (
	"errors"
	"io"
	"path/filepath"
)

func filepathAbs(path string) (string, error) {
	return filepath.Abs(path)
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
