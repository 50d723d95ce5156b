package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/blockdevice/image"
)

// ErrNotFound is returned when an image does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrInvalidName is returned for names that are empty or contain a path
// separator.
var ErrInvalidName = errors.New("imagestore: invalid name")

// Store is a flat namespace of image blobs. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put writes a blob atomically, replacing any previous one.
	Put(ctx context.Context, name string, data []byte) error
	// Get returns a copy of the blob.
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ValidateName rejects names that are empty, dot names or contain a path
// separator. Every Store implementation calls it first.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// SaveDevice encodes dev and stores it under name.
func SaveDevice(ctx context.Context, s Store, name string, dev *blockdevice.Exhaustible, c image.Compression) error {
	var buf bytes.Buffer
	if err := image.Save(&buf, dev, c); err != nil {
		return err
	}
	return s.Put(ctx, name, buf.Bytes())
}

// LoadDevice fetches and decodes the image stored under name.
func LoadDevice(ctx context.Context, s Store, name string) (*blockdevice.Exhaustible, error) {
	data, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	dev, err := image.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imagestore: %s: %w", name, err)
	}
	return dev, nil
}
