//go:build !unix

package segment

import (
	"fmt"
	"io"
	"os"
)

func mapFile(f *os.File) ([]byte, func() error, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("reading segment file: %w", err)
	}
	return data, func() error { return nil }, nil
}
