// Package yaml provides atomic YAML file I/O, schema-header validation,
// and quarantine of unreadable files.
package yaml

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWrite marshals data and replaces the file at path with it. The
// previous content, if any, survives as path.bak. Readers never observe
// a partial document: the content is staged in the target's directory,
// synced, re-parsed, and only then renamed over path.
func AtomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return commit(path, content)
}

func commit(path string, content []byte) error {
	staged, err := stage(filepath.Dir(path), content)
	if err != nil {
		return err
	}
	// No-op once the rename has happened.
	defer func() { _ = os.Remove(staged) }()

	if err := reparse(staged); err != nil {
		return err
	}
	if err := backup(path); err != nil {
		return err
	}
	if err := os.Rename(staged, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// stage writes content to a fresh temp file and returns its name. The
// temp file lives in dir so the final rename stays on one volume.
func stage(dir string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".missioncheck-tmp-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()

	_, werr := tmp.Write(content)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("stage temp file: %w", werr)
	}
	return name, nil
}

// reparse confirms the staged bytes on disk form a parseable YAML
// document before they are allowed to replace the previous file.
func reparse(staged string) error {
	content, err := os.ReadFile(staged)
	if err != nil {
		return fmt.Errorf("read back staged file: %w", err)
	}
	var v any
	if err := yamlv3.Unmarshal(content, &v); err != nil {
		return fmt.Errorf("staged content is not valid yaml: %w", err)
	}
	return nil
}

// backup copies the current file to path.bak. A missing current file is
// fine, that is the first write.
func backup(path string) error {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read previous content: %w", err)
	}

	f, err := os.OpenFile(path+".bak", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync backup: %w", err)
	}
	return f.Close()
}
