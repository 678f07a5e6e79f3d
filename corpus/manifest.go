package corpus

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Manifest describes one generation run. It is written next to the output, see ManifestPath.
type Manifest struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Strategy  string    `json:"strategy"`
	Format    string    `json:"format"`

	Output       string `json:"output"`
	RandomOutput string `json:"random_output,omitempty"`

	Documents       int `json:"documents"`
	Instances       int `json:"instances"`
	RandomInstances int `json:"random_instances,omitempty"`

	// Config is the configuration of the run.
	Config any `json:"config,omitempty"`
}

// NewManifest returns a Manifest with a new random run id.
func NewManifest(strategy string, format Format) *Manifest {
	return &Manifest{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Strategy:  strategy,
		Format:    format.String(),
	}
}

// ManifestPath returns the manifest path for the given output path.
func ManifestPath(output string) string {
	return output + ".manifest.json"
}

// Write saves the manifest as indented JSON.
func (m *Manifest) Write(path string) error {
	content, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode manifest")
	}
	if err := os.WriteFile(path, append(content, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write manifest %q", path)
	}
	return nil
}

// ReadManifest loads a manifest written by Manifest.Write. Config is decoded as generic JSON.
func ReadManifest(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %q", path)
	}
	m := &Manifest{}
	if err := json.Unmarshal(content, m); err != nil {
		return nil, errors.Wrapf(err, "failed to parse manifest %q", path)
	}
	return m, nil
}
