package config

import (
	"errors"
	"fmt"
)

// CurrentVersion is the config file format this build reads. Files that
// omit "version" are treated as current.
const CurrentVersion = 1

var (
	// ErrConfigTooNew means the file was written for a later Parrot.
	ErrConfigTooNew = errors.New("config is newer than this build")

	// ErrConfigUnsupported means the file format is no longer read.
	ErrConfigUnsupported = errors.New("config version is unsupported")
)

// ValidateVersion checks a file's declared format version.
func ValidateVersion(version int) error {
	switch {
	case version == CurrentVersion:
		return nil
	case version > CurrentVersion:
		return fmt.Errorf("%w: version %d, this build reads %d; upgrade Parrot", ErrConfigTooNew, version, CurrentVersion)
	default:
		return fmt.Errorf("%w: version %d, this build reads %d", ErrConfigUnsupported, version, CurrentVersion)
	}
}
