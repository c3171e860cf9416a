//go:build windows

package config

import (
	"errors"
	"fmt"
	"os"
)

func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("config: failed to open %s: %w", path, err)
	}
	return f, nil
}

// checkFileOwnership is a no-op; Windows uses ACLs.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}
