package collabctl

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v3"
)

// Manifest lists the projects a seed run creates or replaces.
type Manifest struct {
	Projects []ManifestProject `yaml:"projects"`
}

// ManifestProject is one project with its members and files. An empty ID is
// assigned a fresh object id.
type ManifestProject struct {
	ID      string            `yaml:"id,omitempty"`
	Name    string            `yaml:"name"`
	Members []ManifestMember  `yaml:"members"`
	Files   map[string]string `yaml:"files,omitempty"`
}

// ManifestMember grants one identity access to the project.
type ManifestMember struct {
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email,omitempty"`
}

// ParseManifest decodes and validates a seed manifest.
func ParseManifest(r io.Reader) (Manifest, error) {
	var manifest Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, errors.New("manifest is empty")
		}
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := manifest.normalize(); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

func (m *Manifest) normalize() error {
	if len(m.Projects) == 0 {
		return errors.New("manifest has no projects")
	}
	seen := make(map[string]struct{}, len(m.Projects))
	for i := range m.Projects {
		p := &m.Projects[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return fmt.Errorf("project %d: name is required", i)
		}
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			p.ID = primitive.NewObjectID().Hex()
		} else if !primitive.IsValidObjectID(p.ID) {
			return fmt.Errorf("project %q: id %q is not a 24-hex object id", p.Name, p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("project %q: duplicate id %s", p.Name, p.ID)
		}
		seen[p.ID] = struct{}{}
		for j := range p.Members {
			p.Members[j].UserID = strings.TrimSpace(p.Members[j].UserID)
			if p.Members[j].UserID == "" {
				return fmt.Errorf("project %q: member %d: user_id is required", p.Name, j)
			}
		}
	}
	return nil
}
