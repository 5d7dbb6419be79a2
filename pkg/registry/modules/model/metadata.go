package model

import (
	"encoding/json"
	"fmt"
)

// Metadata is the metadata.json document shipped inside every module archive.
type Metadata struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Author       string         `json:"author,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	License      string         `json:"license,omitempty"`
	Source       string         `json:"source,omitempty"`
	ProjectPage  string         `json:"project_page,omitempty"`
	Dependencies []Dependency   `json:"dependencies,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Types        []MetadataType `json:"types,omitempty"`
}

// MetadataType is an entry of the opaque "types" list. Only the name is kept.
type MetadataType struct {
	Name string `json:"name"`
}

// ParseMetadata decodes a metadata.json document.
func ParseMetadata(data []byte) (*Metadata, error) {
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decoding module metadata: %w", err)
	}
	return &md, nil
}

// Key derives the module key from the metadata. When the metadata name is not
// in "author-name" form, author and name come from the archive filename.
func (md *Metadata) Key(archiveName string) (Key, error) {
	author, name, ok := SplitFullName(md.Name)
	version := md.Version
	if !ok || version == "" {
		fromFile, err := KeyFromArchiveName(archiveName)
		if err != nil {
			return Key{}, fmt.Errorf("module name %q is not split and %w", md.Name, err)
		}
		if !ok {
			author, name = fromFile.Author, fromFile.Name
		}
		if version == "" {
			version = fromFile.Version
		}
	}
	return Key{Author: author, Name: name, Version: version}, nil
}

// Options converts the descriptive metadata into module options.
func (md *Metadata) Options() []ModuleOption {
	source := md.Source
	if source == "" {
		source = md.ProjectPage
	}
	typeNames := make([]string, 0, len(md.Types))
	for _, t := range md.Types {
		typeNames = append(typeNames, t.Name)
	}
	return []ModuleOption{
		WithSummary(md.Summary),
		WithLicense(md.License),
		WithSource(source),
		WithTags(md.Tags...),
		WithTypes(typeNames...),
		WithDependencies(md.Dependencies...),
	}
}

// NewModuleFromMetadata builds a Module from archive metadata.
func NewModuleFromMetadata(md *Metadata, archiveName string, opts ...ModuleOption) (*Module, error) {
	key, err := md.Key(archiveName)
	if err != nil {
		return nil, err
	}
	return NewModule(key, append(md.Options(), opts...)...)
}
