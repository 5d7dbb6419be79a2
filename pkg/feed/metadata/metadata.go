// Package metadata parses feed metadata documents into RepositoryMetadata.
//
// Two document kinds exist: the flat PULP_MANIFEST of a directory feed, and
// the modules.json document of a Forge feed.
package metadata

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pmirror/pmirror/pkg/registry/modules/model"
)

// ManifestFilename is the discriminating manifest of a directory feed.
const ManifestFilename = "PULP_MANIFEST"

// ForgeFilename is the aggregate metadata document of a Forge feed.
const ForgeFilename = "modules.json"

// Entry is one module advertised by a feed.
type Entry struct {
	Key model.Key
	// Path is the archive location relative to the feed root.
	Path string
	// Checksum and Size are only known for manifest entries. Checksum is a
	// hex sha256.
	Checksum string
	Size     int64
	Summary  string
	Tags     []string
}

// ArchiveName returns the filename the feed publishes the archive under.
func (e Entry) ArchiveName() string {
	if e.Path == "" {
		return e.Key.ArchiveName()
	}
	return path.Base(e.Path)
}

// RepositoryMetadata is every module parsed from one feed pass.
type RepositoryMetadata struct {
	Entries []Entry
}

// Keys indexes the entries by module key.
func (m *RepositoryMetadata) Keys() map[model.Key]Entry {
	keys := make(map[model.Key]Entry, len(m.Entries))
	for _, e := range m.Entries {
		keys[e.Key] = e
	}
	return keys
}

// ParseManifest parses a PULP_MANIFEST document: one "name,checksum,size" per
// line, where name is the archive path relative to the feed. Any malformed
// line fails the whole document.
func ParseManifest(data []byte) (*RepositoryMetadata, error) {
	md := &RepositoryMetadata{}
	seen := map[model.Key]bool{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("manifest line %d: expected name,checksum,size, got %q", lineNo, line)
		}
		name, checksum := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
		size, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: invalid size: %w", lineNo, err)
		}
		key, err := model.KeyFromArchiveName(path.Base(name))
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", lineNo, err)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		md.Entries = append(md.Entries, Entry{
			Key:      key,
			Path:     name,
			Checksum: strings.ToLower(checksum),
			Size:     size,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return md, nil
}

// forgeModule is one element of a modules.json document.
type forgeModule struct {
	Author   string   `json:"author"`
	FullName string   `json:"full_name"`
	Name     string   `json:"name"`
	Desc     string   `json:"desc"`
	Version  string   `json:"version"`
	TagList  []string `json:"tag_list"`
	Releases []struct {
		Version string `json:"version"`
	} `json:"releases"`
}

// ParseForge parses one or more modules.json documents (one per feed query)
// into a single RepositoryMetadata. A module present in several documents is
// listed once.
func ParseForge(docs ...[]byte) (*RepositoryMetadata, error) {
	md := &RepositoryMetadata{}
	seen := map[model.Key]bool{}
	for i, doc := range docs {
		var modules []forgeModule
		if err := json.Unmarshal(doc, &modules); err != nil {
			return nil, fmt.Errorf("decoding metadata document %d: %w", i, err)
		}
		for _, m := range modules {
			author, name := m.Author, m.Name
			if a, n, ok := model.SplitFullName(m.FullName); ok {
				author, name = a, n
			}
			if author == "" || name == "" {
				return nil, fmt.Errorf("metadata document %d: module %q has no author", i, m.FullName)
			}
			versions := make([]string, 0, len(m.Releases)+1)
			for _, r := range m.Releases {
				versions = append(versions, r.Version)
			}
			if len(versions) == 0 && m.Version != "" {
				versions = append(versions, m.Version)
			}
			for _, version := range versions {
				key := model.Key{Author: author, Name: name, Version: version}
				if version == "" || seen[key] {
					continue
				}
				seen[key] = true
				md.Entries = append(md.Entries, Entry{
					Key:     key,
					Path:    ForgeArchivePath(key),
					Summary: m.Desc,
					Tags:    m.TagList,
				})
			}
		}
	}
	sort.Slice(md.Entries, func(i, j int) bool {
		return md.Entries[i].Key.String() < md.Entries[j].Key.String()
	})
	return md, nil
}

// ForgeArchivePath is where a Forge feed serves a module's archive.
func ForgeArchivePath(key model.Key) string {
	return path.Join("system/releases", key.Initial(), key.Author, key.ArchiveName())
}
