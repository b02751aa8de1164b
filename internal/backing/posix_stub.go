//go:build !linux && !darwin

package backing

// Posix is unavailable on this platform; a Windows file-mapping backing
// would be added here the way spec.md's §6 external-interface note
// describes, without any change to the core.
type Posix struct{}

var _ Backing = Posix{}

func (Posix) Create(name string, size uint64) (*Region, error) {
	return nil, ErrUnsupportedPlatform
}

func (Posix) Open(name string) (*Region, error) {
	return nil, ErrUnsupportedPlatform
}

func (Posix) Unmap(r *Region) error {
	return ErrUnsupportedPlatform
}

func (Posix) Destroy(name string, r *Region) error {
	return ErrUnsupportedPlatform
}
