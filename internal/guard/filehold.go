package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// ErrHoldBusy is returned by FileHold.Activate when another holder has the lock.
var ErrHoldBusy = errors.New("hold file is locked by another holder")

// FileHold keeps an exclusive flock(2) on a file while active. The file carries
// the PID of the holder so operators can see who is keeping the host busy.
type FileHold struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewFileHold returns a FileHold at path. The file is not touched until Activate.
func NewFileHold(path string) (*FileHold, error) {
	if path == "" {
		return nil, fmt.Errorf("hold path is empty")
	}
	return &FileHold{path: path}, nil
}

func (h *FileHold) Path() string { return h.path }

// Activate takes the lock without waiting. ErrHoldBusy is returned while
// another holder has it.
func (h *FileHold) Activate() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create hold directory: %w", err)
	}

	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open hold file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", ErrHoldBusy, h.path)
		}
		return fmt.Errorf("lock hold file: %w", err)
	}
	if err := writePID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return err
	}

	h.f = f
	return nil
}

// Deactivate unlocks and closes the file. It is a no-op when inactive.
func (h *FileHold) Deactivate() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.f == nil {
		return nil
	}
	_ = h.f.Truncate(0)
	_ = syscall.Flock(int(h.f.Fd()), syscall.LOCK_UN)
	err := h.f.Close()
	h.f = nil
	return err
}

// Active reports whether the lock is currently held by this process.
func (h *FileHold) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.f != nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate hold file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek hold file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync hold file: %w", err)
	}
	return nil
}
