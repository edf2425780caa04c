package modules

import (
	"fmt"
	"path"
	"strings"

	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"
)

// ManifestNames are the archive resources searched for a manifest, in order.
var ManifestNames = []string{"manifest.yaml", "manifest.yml", "manifest.properties"}

// Manifest describes one module archive.
type Manifest struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Author      string `yaml:"author" json:"author"`
	Main        string `yaml:"main" json:"main"`
	Depends     string `yaml:"depends,omitempty" json:"depends,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ParseManifest parses a manifest resource. The format follows the resource
// name: YAML for .yaml/.yml, Java properties otherwise.
func ParseManifest(resource string, data []byte) (Manifest, error) {
	var (
		m   Manifest
		err error
	)

	switch strings.ToLower(path.Ext(resource)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		m, err = parseProperties(data)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", resource, err)
	}

	m.normalize()
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func parseProperties(data []byte) (Manifest, error) {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return Manifest{}, err
	}

	return Manifest{
		Name:        p.GetString("name", ""),
		Version:     p.GetString("version", ""),
		Author:      p.GetString("author", ""),
		Main:        p.GetString("main", ""),
		Depends:     p.GetString("depends", ""),
		Description: p.GetString("description", ""),
	}, nil
}

func (m *Manifest) normalize() {
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	m.Author = strings.TrimSpace(m.Author)
	m.Main = strings.TrimSpace(m.Main)
	m.Depends = strings.TrimSpace(m.Depends)
	m.Description = strings.TrimSpace(m.Description)
}

// Validate checks the required attributes.
func (m Manifest) Validate() error {
	var missing []string
	if m.Name == "" {
		missing = append(missing, "name")
	}
	if m.Version == "" {
		missing = append(missing, "version")
	}
	if m.Author == "" {
		missing = append(missing, "author")
	}
	if m.Main == "" {
		missing = append(missing, "main")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidManifest, strings.Join(missing, ", "))
	}
	if strings.ContainsAny(m.Name, " \t\r\n") {
		return fmt.Errorf("%w: name %q contains whitespace", ErrInvalidManifest, m.Name)
	}
	return nil
}

// ExclusionKey is the configuration key that excludes this module:
// module.<name>.<version>.<author>.exclude.
func (m Manifest) ExclusionKey() string {
	return strings.Join([]string{"module", m.Name, m.Version, m.Author, "exclude"}, ".")
}
