//go:build !linux

package storage

import "os"

// On other platforms fdatasync falls back to a full fsync
func fdatasync(f *os.File) error {
	return f.Sync()
}

func adviseRandom(*os.File) error {
	return nil
}

func adviseWillNeed(*os.File, int64, int64) error {
	return nil
}
