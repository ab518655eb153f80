// Package workspace manages per-job filesystem areas.
//
// A workspace is a directory exclusively owned by one job for its whole
// non-terminal lifetime. It holds an input/ area the anonymizer reads from
// and an output/ area it writes results into. Workspaces are reclaimed
// exactly once, by the job reaper.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// InputDirName is the subdirectory the anonymizer reads from.
	InputDirName = "input"

	// OutputDirName is the subdirectory the anonymizer writes into.
	OutputDirName = "output"

	// dirPrefix namespaces job workspaces under the workspace root.
	dirPrefix = "cloakd_job_"
)

// Workspace is one job's filesystem area.
type Workspace struct {
	root string
}

// Create allocates a fresh workspace under rootDir with input/ and output/
// subdirectories. An empty rootDir uses the system temp directory.
func Create(rootDir string) (*Workspace, error) {
	if strings.TrimSpace(rootDir) == "" {
		rootDir = os.TempDir()
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	dir, err := os.MkdirTemp(rootDir, dirPrefix)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	ws := &Workspace{root: dir}
	for _, sub := range []string{ws.InputDir(), ws.OutputDir()} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("create workspace subdir: %w", err)
		}
	}
	return ws, nil
}

// Root returns the workspace directory path.
func (w *Workspace) Root() string {
	return w.root
}

// InputDir returns the input area path.
func (w *Workspace) InputDir() string {
	return filepath.Join(w.root, InputDirName)
}

// OutputDir returns the output area path.
func (w *Workspace) OutputDir() string {
	return filepath.Join(w.root, OutputDirName)
}

// StageFile writes an uploaded file into the input area under a sanitized
// name and returns the staged path.
func (w *Workspace) StageFile(name string, r io.Reader) (string, error) {
	safe := SanitizeFilename(name)
	dst := filepath.Join(w.InputDir(), safe)

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", safe, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("stage %s: %w", safe, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("stage %s: %w", safe, err)
	}
	return dst, nil
}

// Remove deletes the workspace directory and everything under it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.root)
}

// SanitizeFilename strips any path components and characters that could
// escape the input area. An empty result falls back to "image.jpg",
// matching the upload contract's lenient handling of odd client filenames.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := strings.Trim(b.String(), "._")
	if safe == "" {
		return "image.jpg"
	}
	return safe
}

// CollectOutputs walks the workspace's output area and returns the sorted
// paths of regular files whose extension (case-insensitive) is in the
// allowlist. Extensions are matched as doublestar patterns against the
// path relative to the output area, so nested output layouts are found.
func CollectOutputs(root string, extensions []string) ([]string, error) {
	outDir := filepath.Join(root, OutputDirName)

	patterns := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		patterns = append(patterns, "**/*"+ext)
	}

	var matched []string
	err := filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(outDir, path)
		if err != nil {
			return err
		}
		rel = strings.ToLower(filepath.ToSlash(rel))
		for _, pattern := range patterns {
			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				return fmt.Errorf("match %q: %w", pattern, err)
			}
			if ok {
				matched = append(matched, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan output area: %w", err)
	}

	sort.Strings(matched)
	return matched, nil
}
