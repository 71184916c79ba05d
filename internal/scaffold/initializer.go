package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/warden/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// Files written by Initialize, relative to the target directory.
const (
	ConfigFile = "warden.yml"
	EnvFile    = "warden.env"
)

// FileInfo is one file Initialize writes.
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes a starter warden.yml and warden.env into dir. Existing files are
// only replaced when force is set. The written config is parsed back to make sure the
// template still validates.
func Initialize(dir string, force bool) ([]string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return nil, err
		}
	}

	files, err := templateFiles()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.Path)
		if err := os.WriteFile(path, f.Content, f.Permissions); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}

	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return written, fmt.Errorf("generated %s does not validate: %w", ConfigFile, err)
	}
	return written, nil
}

func templateFiles() ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/" + ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded %s: %w", ConfigFile, err)
	}
	env, err := templatesFS.ReadFile("templates/" + EnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded %s: %w", EnvFile, err)
	}

	return []FileInfo{
		{Path: ConfigFile, Content: cfg, Permissions: 0o644},
		// Holds the bot token once filled in.
		{Path: EnvFile, Content: env, Permissions: 0o600},
	}, nil
}
