package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type SessionFile struct {
	Path    string
	Rel     string // relative to the project directory, slash separated
	Project string
	Mtime   int64 // unix nanoseconds
	Size    int64
}

// Key identifies the file across a run: project name plus the relative
// path without extension.
func (f SessionFile) Key() string {
	return f.Project + "/" + strings.TrimSuffix(f.Rel, ".jsonl")
}

type Project struct {
	Name  string
	Dir   string
	Files []SessionFile
	Err   error // set when the project directory could not be read
}

// ScanProjects lists the project directories under root, or only the
// named ones when names are given.
func ScanProjects(root string, names ...string) ([]Project, error) {
	if len(names) == 0 {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read projects root: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)

	projects := make([]Project, 0, len(names))
	for _, name := range names {
		p := Project{Name: name, Dir: filepath.Join(root, name)}
		p.Files, p.Err = scanProject(p.Dir, name)
		projects = append(projects, p)
	}
	return projects, nil
}

// scanProject collects top-level session files and delegated
// sub-conversation files under any subagents directory.
func scanProject(dir, name string) ([]SessionFile, error) {
	var files []SessionFile
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // skip unreadable dirs
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".jsonl" {
			return nil
		}
		if strings.Contains(filepath.Base(path), "sessions-index") {
			return nil
		}
		parent := filepath.Dir(path)
		if parent != dir && filepath.Base(parent) != "subagents" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		files = append(files, SessionFile{
			Path:    path,
			Rel:     filepath.ToSlash(rel),
			Project: name,
			Mtime:   info.ModTime().UnixNano(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan project %s: %w", name, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}
