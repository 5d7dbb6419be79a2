package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ipfs/go-cid"
	"github.com/pmirror/pmirror/pkg/registry/types"
	"github.com/pmirror/pmirror/pkg/registry/types/id"
)

// DefaultChecksumType is the checksum algorithm used for module archives.
const DefaultChecksumType = "md5"

// Key is the unique identity of a module. It never changes once a module is
// created.
type Key struct {
	Author  string
	Name    string
	Version string
}

// FullName returns the "author/name" form used as the dependency graph key.
func (k Key) FullName() string {
	return k.Author + "/" + k.Name
}

// Initial returns the first character of the author. Archive paths are
// sharded on it.
func (k Key) Initial() string {
	_, size := utf8.DecodeRuneInString(k.Author)
	return k.Author[:size]
}

// ArchiveName returns the conventional archive filename for the key.
func (k Key) ArchiveName() string {
	return fmt.Sprintf("%s-%s-%s.tar.gz", k.Author, k.Name, k.Version)
}

func (k Key) String() string {
	return k.Author + "-" + k.Name + "-" + k.Version
}

// Dependency is a single declared dependency of a module. Name is in
// "author/name" form.
type Dependency struct {
	Name               string `json:"name"`
	VersionRequirement string `json:"version_requirement,omitempty"`
}

// Module is a versioned unit identified by its Key.
type Module struct {
	id           id.ModuleID
	key          Key
	checksum     string
	checksumType string
	dependencies []Dependency
	summary      string
	license      string
	source       string
	tags         []string
	types        []string
	locator      cid.Cid
	createdAt    time.Time
	updatedAt    time.Time
}

// accessors

func (m *Module) ID() id.ModuleID {
	return m.id
}

func (m *Module) Key() Key {
	return m.key
}

func (m *Module) Author() string {
	return m.key.Author
}

func (m *Module) Name() string {
	return m.key.Name
}

func (m *Module) Version() string {
	return m.key.Version
}

// FullName returns the module's "author/name".
func (m *Module) FullName() string {
	return m.key.FullName()
}

// ArchiveName returns the filename of the module's archive.
func (m *Module) ArchiveName() string {
	return m.key.ArchiveName()
}

func (m *Module) Checksum() string {
	return m.checksum
}

func (m *Module) ChecksumType() string {
	return m.checksumType
}

// Dependencies returns a copy of the module's declared dependencies, in
// declaration order.
func (m *Module) Dependencies() []Dependency {
	return append([]Dependency(nil), m.dependencies...)
}

func (m *Module) Summary() string {
	return m.summary
}

func (m *Module) License() string {
	return m.license
}

func (m *Module) Source() string {
	return m.source
}

func (m *Module) Tags() []string {
	return append([]string(nil), m.tags...)
}

func (m *Module) Types() []string {
	return append([]string(nil), m.types...)
}

// Locator returns the content store reference of the module archive, or
// cid.Undef if the archive has not been stored yet.
func (m *Module) Locator() cid.Cid {
	return m.locator
}

func (m *Module) CreatedAt() time.Time {
	return m.createdAt
}

func (m *Module) UpdatedAt() time.Time {
	return m.updatedAt
}

// SetChecksum back-fills the archive checksum. A checksum can only be set once;
// setting the same value again is a no-op.
func (m *Module) SetChecksum(checksum string, checksumType string) error {
	if checksum == "" {
		return types.ErrEmpty{Field: "checksum"}
	}
	if checksumType == "" {
		checksumType = DefaultChecksumType
	}
	if m.checksum != "" {
		if m.checksum == checksum && m.checksumType == checksumType {
			return nil
		}
		return types.ErrImmutable{Field: "checksum"}
	}
	m.checksum = checksum
	m.checksumType = checksumType
	m.updatedAt = time.Now()
	return nil
}

// SetLocator records where the archive lives in the content store.
func (m *Module) SetLocator(locator cid.Cid) error {
	if !locator.Defined() {
		return types.ErrEmpty{Field: "locator"}
	}
	if m.locator.Defined() && !m.locator.Equals(locator) {
		return types.ErrImmutable{Field: "locator"}
	}
	m.locator = locator
	m.updatedAt = time.Now()
	return nil
}

// validation conditions -- all modules outside this package MUST be valid
func validateModule(m *Module) (*Module, error) {
	if m.id == id.Nil {
		return nil, types.ErrEmpty{Field: "id"}
	}
	if m.key.Author == "" {
		return nil, types.ErrEmpty{Field: "author"}
	}
	if m.key.Name == "" {
		return nil, types.ErrEmpty{Field: "name"}
	}
	if m.key.Version == "" {
		return nil, types.ErrEmpty{Field: "version"}
	}
	if strings.ContainsAny(m.key.Author, "/-") {
		return nil, fmt.Errorf("invalid module author %q", m.key.Author)
	}
	if strings.Contains(m.key.Name, "/") {
		return nil, fmt.Errorf("invalid module name %q", m.key.Name)
	}
	if m.checksum != "" && m.checksumType == "" {
		return nil, types.ErrEmpty{Field: "checksum type"}
	}
	for _, dep := range m.dependencies {
		if dep.Name == "" {
			return nil, types.ErrEmpty{Field: "dependency name"}
		}
	}
	return m, nil
}

// ModuleOption is a function that configures a Module.
type ModuleOption func(*Module) error

// WithChecksum sets the archive checksum at creation time.
func WithChecksum(checksum string, checksumType string) ModuleOption {
	return func(m *Module) error {
		return m.SetChecksum(checksum, checksumType)
	}
}

// WithDependencies sets the declared dependencies. Names given as
// "author-name" are normalized to "author/name".
func WithDependencies(deps ...Dependency) ModuleOption {
	return func(m *Module) error {
		m.dependencies = make([]Dependency, 0, len(deps))
		for _, dep := range deps {
			m.dependencies = append(m.dependencies, Dependency{
				Name:               NormalizeFullName(dep.Name),
				VersionRequirement: dep.VersionRequirement,
			})
		}
		return nil
	}
}

func WithSummary(summary string) ModuleOption {
	return func(m *Module) error {
		m.summary = summary
		return nil
	}
}

func WithLicense(license string) ModuleOption {
	return func(m *Module) error {
		m.license = license
		return nil
	}
}

func WithSource(source string) ModuleOption {
	return func(m *Module) error {
		m.source = source
		return nil
	}
}

func WithTags(tags ...string) ModuleOption {
	return func(m *Module) error {
		m.tags = append([]string(nil), tags...)
		return nil
	}
}

// WithTypes sets the opaque capability markers declared by the module.
func WithTypes(types ...string) ModuleOption {
	return func(m *Module) error {
		m.types = append([]string(nil), types...)
		return nil
	}
}

func WithLocator(locator cid.Cid) ModuleOption {
	return func(m *Module) error {
		return m.SetLocator(locator)
	}
}

// NewModule creates and returns a new Module for the given key.
func NewModule(key Key, opts ...ModuleOption) (*Module, error) {
	m := &Module{
		id:        id.New(),
		key:       key,
		createdAt: time.Now(),
		updatedAt: time.Now(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return validateModule(m)
}

// ModuleRowScanner is a function type for scanning a module row from the database.
type ModuleRowScanner func(
	id *id.ModuleID,
	author, name, version *string,
	checksum, checksumType *string,
	dependencies *[]Dependency,
	summary, license, source *string,
	tags, types *[]string,
	locator *cid.Cid,
	createdAt, updatedAt *time.Time,
) error

// ReadModuleFromDatabase reads a Module from the database using the provided scanner function.
func ReadModuleFromDatabase(scanner ModuleRowScanner) (*Module, error) {
	m := &Module{}
	err := scanner(
		&m.id,
		&m.key.Author, &m.key.Name, &m.key.Version,
		&m.checksum, &m.checksumType,
		&m.dependencies,
		&m.summary, &m.license, &m.source,
		&m.tags, &m.types,
		&m.locator,
		&m.createdAt, &m.updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("reading module from database: %w", err)
	}
	return validateModule(m)
}

// ModuleWriter is a function type for writing a module row to the database.
type ModuleWriter func(
	id id.ModuleID,
	author, name, version string,
	checksum, checksumType string,
	dependencies []Dependency,
	summary, license, source string,
	tags, types []string,
	locator cid.Cid,
	createdAt, updatedAt time.Time,
) error

// WriteModuleToDatabase writes a Module using the provided writer function.
func WriteModuleToDatabase(m *Module, writer ModuleWriter) error {
	return writer(
		m.id,
		m.key.Author, m.key.Name, m.key.Version,
		m.checksum, m.checksumType,
		m.dependencies,
		m.summary, m.license, m.source,
		m.tags, m.types,
		m.locator,
		m.createdAt, m.updatedAt,
	)
}
