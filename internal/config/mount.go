package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// MountRecord describes a live mount of an image. It is written beside the
// data file while the mount runs so other commands can report who holds the
// image lock.
type MountRecord struct {
	Mountpoint string    `toml:"mountpoint"`
	PID        int       `toml:"pid"`
	Backend    string    `toml:"backend"`
	Started    time.Time `toml:"started"`
}

// MountRecordPath returns the mount record path for the image whose data
// file is at dataPath.
func MountRecordPath(dataPath string) string {
	return dataPath + ".mount"
}

// WriteMountRecord writes the mount record for dataPath.
func WriteMountRecord(dataPath string, r MountRecord) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(r); err != nil {
		return fmt.Errorf("encode mount record: %w", err)
	}
	return os.WriteFile(MountRecordPath(dataPath), buf.Bytes(), 0o644)
}

// ReadMountRecord reads the mount record for dataPath. Returns
// os.ErrNotExist if the image is not mounted.
func ReadMountRecord(dataPath string) (MountRecord, error) {
	var r MountRecord
	_, err := toml.DecodeFile(MountRecordPath(dataPath), &r)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return MountRecord{}, os.ErrNotExist
		}
		return MountRecord{}, err
	}
	return r, nil
}

// RemoveMountRecord removes the mount record (best-effort).
func RemoveMountRecord(dataPath string) {
	os.Remove(MountRecordPath(dataPath)) //nolint:errcheck // best-effort cleanup on unmount
}
