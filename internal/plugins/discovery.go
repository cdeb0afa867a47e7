package plugins

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Discovered pairs a plugin's manifest with the directory it was found in.
type Discovered struct {
	Path     string
	Manifest Manifest
}

// Discover scans dirs for omni.plugin.json manifests in immediate
// subdirectories. Directories that don't exist are skipped silently;
// unparseable manifests are logged at warn and skipped.
func Discover(dirs []string, logger *slog.Logger) []Discovered {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "plugins")

	var results []Discovered

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			logger.Debug("plugin directory does not exist, skipping", "path", dir)
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("failed to read plugin directory", "path", dir, "error", err)
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			pluginDir := filepath.Join(dir, entry.Name())
			manifestPath := filepath.Join(pluginDir, ManifestFile)

			content, err := os.ReadFile(manifestPath)
			if err != nil {
				continue
			}
			manifest, err := ParseManifest(content)
			if err != nil {
				logger.Warn("failed to parse plugin manifest", "path", manifestPath, "error", err)
				continue
			}

			logger.Debug("discovered plugin", "plugin_id", manifest.ID, "path", pluginDir)
			results = append(results, Discovered{Path: pluginDir, Manifest: manifest})
		}
	}

	return results
}

// DefaultDirs returns the standard plugin search directories: the
// user's config dir and a sibling data dir, each under "omni/plugins".
func DefaultDirs() []string {
	var dirs []string

	if configDir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(configDir, "omni", "plugins"))
	}

	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "omni", "plugins"))
	}

	return dirs
}
