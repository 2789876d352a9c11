//go:build !unix

package usage

// Without flock the file backend is only safe within one process.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
