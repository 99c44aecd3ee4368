//go:build unix

package gag

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func redirect() (func(), error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("gag: open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	fds := []int{int(os.Stdout.Fd()), int(os.Stderr.Fd())}
	saved := make([]int, 0, len(fds))
	undo := func() {
		for i, fd := range saved {
			unix.Dup2(fd, fds[i])
			unix.Close(fd)
		}
	}

	for _, fd := range fds {
		dup, err := unix.Dup(fd)
		if err != nil {
			undo()
			return nil, fmt.Errorf("gag: dup fd %d: %w", fd, err)
		}
		saved = append(saved, dup)
		if err := unix.Dup2(int(devNull.Fd()), fd); err != nil {
			undo()
			return nil, fmt.Errorf("gag: redirect fd %d: %w", fd, err)
		}
	}
	return undo, nil
}
