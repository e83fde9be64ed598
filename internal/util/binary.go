// Package util provides small helpers shared across packages.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary locates an external executable. An override environment
// variable wins when set, a copy in the working directory is preferred next
// (useful in development), and PATH is the fallback. Every candidate must
// exist and carry an executable bit.
func FindBinary(name, envVar string) (string, error) {
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" && isExecutable(p) {
			return p, nil
		}
	}

	if local := "./" + name; isExecutable(local) {
		return local, nil
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
