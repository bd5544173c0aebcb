// Package license reads the fixed-layout per-machine license artifact the
// protected binary is bound to. Issuance lives elsewhere; this package only
// consumes an already-provisioned License.dat.
package license

import (
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// MachineIDLen is the length of the opaque per-machine identifier.
	MachineIDLen = 32
	// MasterKeyLen is the length of the secret key material.
	MasterKeyLen = 16

	// FileSize is the exact size of a valid license file.
	FileSize = MachineIDLen + MasterKeyLen

	// DefaultFileName is the license file name expected in the output
	// directory.
	DefaultFileName = "License.dat"
)

// ErrLicense marks any failure to load or parse a license file. Callers
// classify with errors.Is.
var ErrLicense = errors.New("invalid license")

// A License holds the two secret fields read from License.dat, in file
// order. Immutable once loaded.
type License struct {
	MachineID [MachineIDLen]byte
	MasterKey [MasterKeyLen]byte
}

// Load reads a license from path. The file must be exactly MachineIDLen
// bytes of machine id followed by MasterKeyLen bytes of key material; a
// missing, truncated or oversized file is an error wrapping ErrLicense.
func Load(path string) (*License, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrLicense, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrLicense, path, err)
	}
	if info.Size() != FileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrLicense, path, info.Size(), FileSize)
	}

	var lic License
	if _, err := io.ReadFull(f, lic.MachineID[:]); err != nil {
		return nil, fmt.Errorf("%w: read machine id: %v", ErrLicense, err)
	}
	if _, err := io.ReadFull(f, lic.MasterKey[:]); err != nil {
		return nil, fmt.Errorf("%w: read master key: %v", ErrLicense, err)
	}
	return &lic, nil
}
