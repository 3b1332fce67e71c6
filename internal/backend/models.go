package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ekisa-team/igichat/internal/plugin"
)

const manifestFilename = "model.json"

// Manifest is the optional model.json stored next to a model's weights.
type Manifest struct {
	Name string `json:"name"`
}

// FormatGUID renders id in the braced upper-case form used for model directories.
func FormatGUID(id uuid.UUID) string {
	return "{" + strings.ToUpper(id.String()) + "}"
}

// NormalizeGUID parses s and returns its canonical braced form.
func NormalizeGUID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid model guid %q: %w", s, err)
	}
	return FormatGUID(id), nil
}

// ScanModels lists the models stored under root/pluginDir. Every directory
// named by a GUID is a model; one without a file matching weightsExt is
// reported as requiring a download. A missing plugin directory yields no models.
func ScanModels(root, pluginDir, weightsExt string) ([]plugin.SupportedModel, error) {
	dir := filepath.Join(root, pluginDir)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model directory %s: %w", dir, err)
	}

	var models []plugin.SupportedModel
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		guid, err := NormalizeGUID(e.Name())
		if err != nil {
			slog.Debug("Skipping non-model directory", "path", filepath.Join(dir, e.Name()))
			continue
		}

		modelDir := filepath.Join(dir, e.Name())
		m := plugin.SupportedModel{GUID: guid, Name: readManifestName(modelDir, e.Name())}

		if _, err := FindWeights(modelDir, weightsExt); err != nil {
			m.Flags |= plugin.ModelFlagRequiresDownload
		}

		models = append(models, m)
	}

	return models, nil
}

// ModelDir returns the directory of guid under root/pluginDir.
func ModelDir(root, pluginDir, guid string) (string, error) {
	want, err := NormalizeGUID(guid)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(root, pluginDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read model directory %s: %w", dir, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if got, err := NormalizeGUID(e.Name()); err == nil && got == want {
			return filepath.Join(dir, e.Name()), nil
		}
	}

	return "", fmt.Errorf("%w: model %s under %s", fs.ErrNotExist, guid, dir)
}

// FindWeights returns the first file in dir with extension ext.
func FindWeights(dir, ext string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: no %s weights in %s", fs.ErrNotExist, ext, dir)
}

func readManifestName(dir, fallback string) string {
	data, err := os.ReadFile(filepath.Join(dir, manifestFilename))
	if err != nil {
		return fallback
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil || m.Name == "" {
		slog.Warn("Invalid model manifest", "path", filepath.Join(dir, manifestFilename), "error", err)
		return fallback
	}
	return m.Name
}
