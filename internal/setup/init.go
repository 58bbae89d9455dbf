// Package setup scaffolds a verification project directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aerotest/missioncheck/internal/config"
	"github.com/aerotest/missioncheck/internal/scenario"
	"github.com/aerotest/missioncheck/templates"
)

// Run lays out a project directory: the default config file, the queue
// layout used by the watch daemon, and a worked example scenario.
func Run(projectDir string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	cfgPath := filepath.Join(absDir, config.File)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	dirs := []string{
		"scenarios",
		"missions",
		"attacks",
		"results",
		"queue",
		"done",
		"quarantine",
		"logs",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(absDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if err := copyTemplateFile("missioncheck.yaml", cfgPath); err != nil {
		return err
	}
	if err := copyTemplateFile("mission.txt", filepath.Join(absDir, "missions", "example.txt")); err != nil {
		return err
	}
	examplePath := filepath.Join(absDir, "scenarios", "example.cfg")
	if err := copyTemplateFile("scenario.cfg", examplePath); err != nil {
		return err
	}

	// The example must survive its own loader, otherwise the scaffold
	// ships a broken starting point.
	if _, err := scenario.Load(examplePath); err != nil {
		return fmt.Errorf("example scenario failed validation: %w", err)
	}

	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
