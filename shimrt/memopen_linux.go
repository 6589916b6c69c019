//go:build linux

package shimrt

import (
	"errors"
	"fmt"
	"os"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
)

// OpenImage loads a shared-library image straight from memory and
// returns a loader handle, suitable as an Options.Open callback for
// libraries that never touch the filesystem. The image is written to
// an anonymous in-memory file and opened through /proc/self/fd.
func OpenImage(data []byte) (uintptr, error) {
	if len(data) == 0 {
		return 0, errors.New("shimrt: empty library image")
	}

	fd, err := anonymousLibraryFD()
	if err != nil {
		return 0, fmt.Errorf("shimrt: create anonymous shared object fd: %w", err)
	}
	defer unix.Close(fd)

	written := 0
	for written < len(data) {
		n, err := unix.Write(fd, data[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, fmt.Errorf("shimrt: write anonymous shared object: %w", err)
		}
		if n <= 0 {
			return 0, fmt.Errorf("shimrt: write anonymous shared object: short write (%d/%d)", written, len(data))
		}
		written += n
	}

	path := fmt.Sprintf("/proc/self/fd/%d", fd)
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return 0, fmt.Errorf("shimrt: dlopen(%s): %w", path, err)
	}
	// The loader holds its own mapping; the fd is safe to close on
	// return.
	return handle, nil
}

func anonymousLibraryFD() (int, error) {
	fd, err := unix.MemfdCreate("shimrt-image", unix.MFD_CLOEXEC)
	if err == nil {
		return fd, nil
	}

	// Fallback: create under /dev/shm then unlink immediately. The
	// open fd remains usable via /proc/self/fd/<n> while avoiding
	// persistent files.
	f, tmpErr := os.CreateTemp("/dev/shm", "shimrt-image-*")
	if tmpErr != nil {
		return -1, errors.Join(err, tmpErr)
	}
	name := f.Name()
	if rmErr := os.Remove(name); rmErr != nil {
		_ = f.Close()
		return -1, fmt.Errorf("unlink temp shared object %s: %w", name, rmErr)
	}
	dupFD, dupErr := unix.Dup(int(f.Fd()))
	if closeErr := f.Close(); closeErr != nil && dupErr == nil {
		return -1, fmt.Errorf("close temp shared object file %s: %w", name, closeErr)
	}
	if dupErr != nil {
		return -1, fmt.Errorf("dup temp shared object fd: %w", dupErr)
	}
	return dupFD, nil
}
