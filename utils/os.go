package utils

import (
	"kbmigrate/logger"
	"os"
	"path/filepath"
)

func CloseFile(f *os.File) error {
	if err := f.Close(); err != nil {
		logger.Warn("Can't close file '%s': %s", f.Name(), err.Error())
		return err
	}
	return nil
}

func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil {
		logger.Warn("Can't remove file '%s': %s", path, err.Error())
		return err
	}
	return nil
}

//RemoveContents empties dir and returns the number of removed entries.
//Entries listed in keep are left in place.
func RemoveContents(dir string, keep ...string) (int, error) {
	d, err := os.Open(dir)
	if err != nil {
		return 0, err
	}
	defer d.Close()
	names, err := d.Readdirnames(-1)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		if contains(keep, name) {
			continue
		}
		err = os.RemoveAll(filepath.Join(dir, name))
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
