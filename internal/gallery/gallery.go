// Package gallery keeps registered reference images on disk, one file per
// identity named after it, plus the append-only access log.
package gallery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrInvalidName = errors.New("invalid identity name")
	ErrNotFound    = errors.New("identity not found")
	ErrExists      = errors.New("identity already registered")
)

// Extensions recognised as reference images, in lookup order.
var imageExts = []string{".jpg", ".png"}

// Reference is one stored reference image.
type Reference struct {
	Name string
	Path string
}

type Gallery struct {
	dir string
}

// Open uses dir as the gallery, creating it if needed.
func Open(dir string) (*Gallery, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create gallery dir %s: %w", dir, err)
	}
	return &Gallery{dir: dir}, nil
}

func (g *Gallery) Dir() string { return g.dir }

// ValidateName rejects names that cannot be used as a file name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case trimmed != name:
		return fmt.Errorf("%w: %q has leading or trailing spaces", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case name == "." || name == ".." || strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	case strings.ContainsRune(name, ','):
		// The access log is comma separated.
		return fmt.Errorf("%w: %q contains a comma", ErrInvalidName, name)
	}
	return nil
}

// Path returns where a JPEG reference for name lives.
func (g *Gallery) Path(name string) string {
	return filepath.Join(g.dir, name+".jpg")
}

// find returns the existing reference file for name.
func (g *Gallery) find(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	for _, ext := range imageExts {
		p := filepath.Join(g.dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (g *Gallery) Exists(name string) bool {
	_, err := g.find(name)
	return err == nil
}

// Save stores a JPEG reference for name. An existing reference is replaced
// only when overwrite is set.
func (g *Gallery) Save(name string, jpeg []byte, overwrite bool) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if !overwrite && g.Exists(name) {
		return "", fmt.Errorf("%w: %s", ErrExists, name)
	}

	tmp, err := os.CreateTemp(g.dir, ".register-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(jpeg); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	dst := g.Path(name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	// Drop a stale PNG so only the new reference remains.
	if overwrite {
		_ = os.Remove(filepath.Join(g.dir, name+".png"))
	}
	return dst, nil
}

func (g *Gallery) Load(name string) ([]byte, error) {
	p, err := g.find(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// List returns every reference in name order.
func (g *Gallery) List() ([]Reference, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var refs []Reference
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".jpg" && ext != ".png" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if seen[name] {
			continue
		}
		seen[name] = true
		refs = append(refs, Reference{Name: name, Path: filepath.Join(g.dir, e.Name())})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func (g *Gallery) Remove(name string) error {
	p, err := g.find(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// Rename moves the reference of oldName to newName, keeping its extension.
func (g *Gallery) Rename(oldName, newName string) error {
	src, err := g.find(oldName)
	if err != nil {
		return err
	}
	if err := ValidateName(newName); err != nil {
		return err
	}
	if g.Exists(newName) {
		return fmt.Errorf("%w: %s", ErrExists, newName)
	}
	return os.Rename(src, filepath.Join(g.dir, newName+filepath.Ext(src)))
}

// Clear removes every reference image. Other files in the directory, such
// as the access log, are left alone.
func (g *Gallery) Clear() (int, error) {
	refs, err := g.List()
	if err != nil {
		return 0, err
	}
	for i, r := range refs {
		if err := os.Remove(r.Path); err != nil {
			return i, err
		}
	}
	return len(refs), nil
}
