package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pmirror/pmirror/pkg/archive/archivetest"
	"github.com/pmirror/pmirror/pkg/contentstore"
	"github.com/pmirror/pmirror/pkg/depgraph"
	"github.com/pmirror/pmirror/pkg/registry/modules"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/pmirror/pmirror/pkg/registry/repositories"
	"github.com/pmirror/pmirror/pkg/registry/sqlrepo"
	"github.com/pmirror/pmirror/pkg/registry/testutil"
	"github.com/pmirror/pmirror/pkg/resolver"
	"github.com/pmirror/pmirror/pkg/resolver/api"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) http.Handler {
	gin.SetMode(gin.TestMode)

	fs := afero.NewMemMapFs()
	repo := sqlrepo.New(testutil.CreateTestDB(t))
	mods := modules.API{Repo: repo, Content: contentstore.New(fs, "/content")}
	repos := repositories.API{Repo: repo}
	base := t.TempDir()

	_, err := repos.FindOrCreateRepository(t.Context(), "repo1")
	require.NoError(t, err)
	require.NoError(t, repos.BindConsumer(t.Context(), "consumer1", "repo1"))

	for _, m := range []struct {
		key  model.Key
		deps []model.Dependency
	}{
		{model.Key{Author: "puppetlabs", Name: "apache", Version: "1.0.0"}, []model.Dependency{{Name: "puppetlabs/stdlib", VersionRequirement: ">= 4.0.0"}}},
		{model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.0.0"}, nil},
		{model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0"}, nil},
	} {
		p := path.Join("/archives", m.key.ArchiveName())
		require.NoError(t, afero.WriteFile(fs, p, archivetest.ModuleArchive(t, m.key, m.deps...), 0o644))
		_, err := mods.ImportArchive(t.Context(), "repo1", modules.Archive{Fs: fs, Path: p})
		require.NoError(t, err)
	}

	publisher := depgraph.Publisher{Modules: mods, Targets: []depgraph.Target{{Protocol: "https", BaseDir: base, Enabled: true}}}
	require.NoError(t, publisher.Publish(t.Context(), "repo1"))

	r, err := resolver.New(repos, base, "https")
	require.NoError(t, err)
	return api.NewRouter(&api.Handlers{Resolver: r}, api.Options{
		ArchiveRoot:   filepath.Join(base, "https"),
		ArchivePrefix: depgraph.DefaultURLPrefix,
	})
}

func get(t *testing.T, h http.Handler, target string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLegacyReleases(t *testing.T) {
	h := newRouter(t)

	t.Run("resolves a module and its dependencies for a repository", func(t *testing.T) {
		rec := get(t, h, "/pulp_puppet/forge/repository/repo1/api/v1/releases.json?module=puppetlabs/apache")
		require.Equal(t, http.StatusOK, rec.Code)

		var result map[string][]depgraph.VersionRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Len(t, result["puppetlabs/apache"], 1)
		require.Len(t, result["puppetlabs/stdlib"], 2)
	})

	t.Run("resolves through a consumer binding", func(t *testing.T) {
		rec := get(t, h, "/pulp_puppet/forge/consumer/consumer1/api/v1/releases.json?module=puppetlabs-stdlib")
		require.Equal(t, http.StatusOK, rec.Code)

		var result map[string][]depgraph.VersionRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Equal(t, "4.1.0", result["puppetlabs/stdlib"][0].Version)
	})

	t.Run("reads scope from basic auth", func(t *testing.T) {
		rec := get(t, h, "/api/v1/releases.json?module=puppetlabs/stdlib&version=4.0.0", func(r *http.Request) {
			r.SetBasicAuth(resolver.Null, "repo1")
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), `"version":"4.0.0"`)
	})

	t.Run("rejects a query without scope", func(t *testing.T) {
		rec := get(t, h, "/api/v1/releases.json?module=puppetlabs/stdlib")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("reports unknown modules", func(t *testing.T) {
		rec := get(t, h, "/pulp_puppet/forge/repository/repo1/api/v1/releases.json?module=puppetlabs/missing")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("requires a module", func(t *testing.T) {
		rec := get(t, h, "/pulp_puppet/forge/repository/repo1/api/v1/releases.json")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("serves published archives", func(t *testing.T) {
		rec := get(t, h, "/pulp/puppet/repo1/p/puppetlabs/puppetlabs-stdlib-4.1.0.tar.gz")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, archivetest.ModuleArchive(t, model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0"}), rec.Body.Bytes())
	})
}

func TestReleases(t *testing.T) {
	h := newRouter(t)

	rec := get(t, h, "/pulp_puppet/forge/repository/repo1/v3/releases?module=puppetlabs-stdlib&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var page resolver.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 2, page.Pagination.Total)
	require.Len(t, page.Results, 1)
	require.Equal(t, "4.1.0", page.Results[0].Metadata.Version)
	require.Nil(t, page.Pagination.Previous)
	require.NotNil(t, page.Pagination.Next)
	require.Contains(t, *page.Pagination.Next, "/pulp_puppet/forge/repository/repo1/v3/releases?")
	require.Contains(t, *page.Pagination.Next, "offset=1")

	rec = get(t, h, "/pulp_puppet/forge/repository/repo1/v3/releases?module=puppetlabs-stdlib&limit=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, h, "/pulp_puppet/forge/bogus/repo1/v3/releases?module=puppetlabs-stdlib")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
