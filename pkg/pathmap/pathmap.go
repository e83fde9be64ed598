// Package pathmap translates file paths between a host staging directory and
// the fixed mount point at which a backend container sees that directory.
//
// The inference backends run in containers with one host directory bind-mounted
// at a fixed container path (conventionally /code/data). Artifacts written by
// the orchestrator must be referenced by their container-visible path in
// submit payloads, and result descriptors returned by the backend arrive as
// container paths that must be resolved back to host paths. That mapping is a
// contract, not a discoverable fact; this package is its single home.
package pathmap

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Mapper maps paths between one host root and one container root. The zero
// value is not usable; construct with New.
type Mapper struct {
	hostRoot      string
	containerRoot string
}

// New creates a Mapper for the given host root and container mount point.
// The host root is made absolute; the container root must be absolute and is
// stored slash-separated because the container side is always Linux.
func New(hostRoot, containerRoot string) (*Mapper, error) {
	if hostRoot == "" {
		return nil, fmt.Errorf("pathmap: empty host root")
	}
	abs, err := filepath.Abs(hostRoot)
	if err != nil {
		return nil, fmt.Errorf("pathmap: resolving host root: %w", err)
	}
	containerRoot = strings.TrimRight(containerRoot, "/")
	if !strings.HasPrefix(containerRoot, "/") {
		return nil, fmt.Errorf("pathmap: container root %q is not absolute", containerRoot)
	}
	return &Mapper{hostRoot: abs, containerRoot: containerRoot}, nil
}

// HostRoot returns the absolute host-side root directory.
func (m *Mapper) HostRoot() string {
	return m.hostRoot
}

// ContainerRoot returns the container-side mount point.
func (m *Mapper) ContainerRoot() string {
	return m.containerRoot
}

// ToContainer converts a host path under the host root to its
// container-visible equivalent. Paths outside the root are rejected.
func (m *Mapper) ToContainer(hostPath string) (string, error) {
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return "", fmt.Errorf("pathmap: resolving %q: %w", hostPath, err)
	}
	rel, err := filepath.Rel(m.hostRoot, abs)
	if err != nil {
		return "", fmt.Errorf("pathmap: %q is not relative to %q: %w", hostPath, m.hostRoot, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("pathmap: %q escapes host root %q", hostPath, m.hostRoot)
	}
	if rel == "." {
		return m.containerRoot, nil
	}
	return m.containerRoot + "/" + filepath.ToSlash(rel), nil
}

// ToHost converts a container-visible path back to the host path. The input
// must begin with the container root.
func (m *Mapper) ToHost(containerPath string) (string, error) {
	cleaned := strings.TrimRight(containerPath, "/")
	if cleaned == m.containerRoot {
		return m.hostRoot, nil
	}
	prefix := m.containerRoot + "/"
	if !strings.HasPrefix(cleaned, prefix) {
		return "", fmt.Errorf("pathmap: %q is not under container root %q", containerPath, m.containerRoot)
	}
	rel := strings.TrimPrefix(cleaned, prefix)
	if rel == ".." || strings.HasPrefix(rel, "../") || strings.Contains(rel, "/../") {
		return "", fmt.Errorf("pathmap: %q escapes container root", containerPath)
	}
	return filepath.Join(m.hostRoot, filepath.FromSlash(rel)), nil
}

// HostJoin joins path elements under the host root.
func (m *Mapper) HostJoin(elem ...string) string {
	return filepath.Join(append([]string{m.hostRoot}, elem...)...)
}

// ContainerJoin joins path elements under the container root, always
// slash-separated.
func (m *Mapper) ContainerJoin(elem ...string) string {
	parts := append([]string{m.containerRoot}, elem...)
	return strings.Join(parts, "/")
}
