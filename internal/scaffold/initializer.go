// Package scaffold writes the starter files for a stave workspace and
// builds the data set of a new, empty project.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/stave/internal/config"
	"github.com/dyluth/stave/internal/printer"
	"github.com/dyluth/stave/internal/store"
	"github.com/dyluth/stave/pkg/protocol"
	"github.com/google/uuid"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Files created by Initialize, relative to the target directory.
const (
	ConfigFile = config.DefaultPath
	EnvFile    = ".env.example"
)

// Initialize writes stave.yml and .env.example into dir. Existing files
// are only replaced when force is set.
func Initialize(dir string, force bool) error {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	for _, file := range files {
		path := filepath.Join(dir, file.Path)
		if err := os.WriteFile(path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	return validateCreatedFiles(dir)
}

func getTemplateFiles() ([]FileInfo, error) {
	staveYml, err := templatesFS.ReadFile("templates/stave.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read stave.yml template: %w", err)
	}
	env, err := templatesFS.ReadFile("templates/env.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read .env template: %w", err)
	}

	return []FileInfo{
		{Path: ConfigFile, Content: staveYml, Permissions: 0644},
		{Path: EnvFile, Content: env, Permissions: 0644},
	}, nil
}

// validateCreatedFiles loads the written config the same way the CLI will.
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}
	return nil
}

// PrintSuccess prints the created files and next steps.
func PrintSuccess() {
	printer.Success("Initialized stave workspace\n")
	printer.Println("\nCreated:")
	printer.Printf("  ✓ %s\n", ConfigFile)
	printer.Printf("  ✓ %s\n", EnvFile)
	printer.Println("\nNext steps:")
	printer.Println("  1. Point redis.url at your relay (or set REDIS_URL)")
	printer.Println("  2. Run 'stave new \"My Song\"' to create a project")
	printer.Println("  3. Run 'stave serve <project-id>' and open the UI")
}

// NewProject returns the data set of an empty project with default
// settings. An empty name becomes "Untitled Project"; bpm <= 0 becomes 120.
func NewProject(name string, bpm float64) *store.ProjectData {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Untitled Project"
	}
	if bpm <= 0 {
		bpm = 120
	}

	return &store.ProjectData{
		Project: protocol.Project{
			ID:           uuid.NewString(),
			Name:         name,
			BPM:          bpm,
			MasterVolume: 0.8,
			Settings:     protocol.DefaultSettings(),
		},
		Tracks:  []protocol.Track{},
		Blocks:  []protocol.Block{},
		Markers: []protocol.Marker{},
	}
}
