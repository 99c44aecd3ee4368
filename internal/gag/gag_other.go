//go:build !unix

package gag

// Descriptor-level redirection is only implemented on unix.
func redirect() (func(), error) {
	return func() {}, nil
}
