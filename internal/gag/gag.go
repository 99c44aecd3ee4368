// Package gag temporarily discards the process's standard output and
// standard error at the file-descriptor level, so output written by native
// code or by anything holding os.Stdout is suppressed too.
package gag

import "sync"

var mu sync.Mutex

// Stdio redirects stdout and stderr to the null device until the returned
// restore function is called. Calls do not nest; a second Stdio blocks until
// the first one is restored.
func Stdio() (restore func(), err error) {
	mu.Lock()
	restore, err = redirect()
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			restore()
			mu.Unlock()
		})
	}, nil
}
