package resolver

import (
	"context"
	"net/url"
	"strconv"

	"github.com/pmirror/pmirror/pkg/registry/modules/model"
)

// DefaultLimit is the page size when a query gives none.
const DefaultLimit = 20

// PageQuery is a paginated release query.
type PageQuery struct {
	ConsumerID string
	RepoID     string
	Module     string
	Version    string
	Limit      int
	Offset     int
	// Path is the URL path page links are built on.
	Path string
}

// Release is one version of a module in a page of results.
type Release struct {
	Metadata ReleaseMetadata `json:"metadata"`
	FileURI  string          `json:"file_uri"`
	FileMD5  string          `json:"file_md5"`
}

// ReleaseMetadata is the module metadata carried by a Release.
type ReleaseMetadata struct {
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	Dependencies []ReleaseDependency `json:"dependencies"`
}

// ReleaseDependency is one declared dependency of a release.
type ReleaseDependency struct {
	Name               string `json:"name"`
	VersionRequirement string `json:"version_requirement"`
}

// Pagination links a page to its neighbours. Previous and Next are nil at the
// respective boundary.
type Pagination struct {
	Limit    int     `json:"limit"`
	Offset   int     `json:"offset"`
	First    string  `json:"first"`
	Previous *string `json:"previous"`
	Current  string  `json:"current"`
	Next     *string `json:"next"`
	Total    int     `json:"total"`
}

// Page is one slice of a paginated release query.
type Page struct {
	Pagination Pagination `json:"pagination"`
	Results    []Release  `json:"results"`
}

// Releases answers the paginated query form: every version of the module,
// newest first, without dependency expansion.
func (r *Resolver) Releases(ctx context.Context, q PageQuery) (*Page, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	name := model.NormalizeFullName(q.Module)
	result, err := r.Resolve(ctx, Query{
		ConsumerID: q.ConsumerID,
		RepoID:     q.RepoID,
		Module:     name,
		Version:    q.Version,
		ViewAll:    true,
	})
	if err != nil {
		return nil, err
	}

	releaseName := name
	if author, short, ok := model.SplitFullName(name); ok {
		releaseName = author + "-" + short
	}
	var all []Release
	for _, rec := range result[name] {
		deps := make([]ReleaseDependency, 0, len(rec.Dependencies))
		for _, d := range rec.Dependencies {
			deps = append(deps, ReleaseDependency{Name: d[0], VersionRequirement: d[1]})
		}
		all = append(all, Release{
			Metadata: ReleaseMetadata{Name: releaseName, Version: rec.Version, Dependencies: deps},
			FileURI:  rec.File,
			FileMD5:  rec.FileMD5,
		})
	}

	total := len(all)
	lo := min(q.Offset, total)
	hi := min(q.Offset+q.Limit, total)
	page := &Page{
		Pagination: Pagination{
			Limit:   q.Limit,
			Offset:  q.Offset,
			First:   q.link(0),
			Current: q.link(q.Offset),
			Total:   total,
		},
		Results: all[lo:hi],
	}
	if page.Results == nil {
		page.Results = []Release{}
	}
	if q.Offset > 0 {
		prev := q.link(max(q.Offset-q.Limit, 0))
		page.Pagination.Previous = &prev
	}
	if q.Offset+q.Limit < total {
		next := q.link(q.Offset + q.Limit)
		page.Pagination.Next = &next
	}
	return page, nil
}

// link re-encodes the query with a different offset.
func (q PageQuery) link(offset int) string {
	params := url.Values{}
	params.Set("module", q.Module)
	if q.Version != "" {
		params.Set("version", q.Version)
	}
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("offset", strconv.Itoa(offset))
	return q.Path + "?" + params.Encode()
}
