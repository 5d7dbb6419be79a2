// Package api exposes the release resolver over HTTP in the Forge wire
// format.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pmirror/pmirror/pkg/resolver"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logging.Logger("resolver/api")

const (
	scopeConsumer   = "consumer"
	scopeRepository = "repository"
)

// Handlers serves release queries from a resolver.
type Handlers struct {
	Resolver *resolver.Resolver
}

// Options configure the router.
type Options struct {
	// ArchiveRoot, when set, is served under ArchivePrefix so that record
	// file paths resolve.
	ArchiveRoot   string
	ArchivePrefix string
}

// NewRouter registers every route on a new gin engine.
func NewRouter(h *Handlers, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Legacy form, scope carried by basic auth credentials: the username is
	// the consumer and the password the repository.
	router.GET("/api/v1/releases.json", h.LegacyReleases)

	forge := router.Group("/pulp_puppet/forge/:scope/:id")
	forge.GET("/api/v1/releases.json", h.LegacyReleases)
	forge.GET("/v3/releases", h.Releases)

	if opts.ArchiveRoot != "" {
		router.StaticFS(opts.ArchivePrefix, gin.Dir(opts.ArchiveRoot, false))
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// LegacyReleases answers the legacy query: the newest release of a module, or
// the requested version, plus every version of each transitive dependency.
func (h *Handlers) LegacyReleases(c *gin.Context) {
	consumerID, repoID, ok := scope(c)
	if !ok {
		return
	}
	module := c.Query("module")
	if module == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "module is required"})
		return
	}

	result, err := h.Resolver.Resolve(c.Request.Context(), resolver.Query{
		ConsumerID:  consumerID,
		RepoID:      repoID,
		Module:      module,
		Version:     c.Query("version"),
		RecurseDeps: true,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if len(result) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "module " + module + " not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Releases answers the paginated query form.
func (h *Handlers) Releases(c *gin.Context) {
	consumerID, repoID, ok := scope(c)
	if !ok {
		return
	}
	module := c.Query("module")
	if module == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "module is required"})
		return
	}
	limit, err := intParam(c, "limit", resolver.DefaultLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := h.Resolver.Releases(c.Request.Context(), resolver.PageQuery{
		ConsumerID: consumerID,
		RepoID:     repoID,
		Module:     module,
		Version:    c.Query("version"),
		Limit:      limit,
		Offset:     offset,
		Path:       c.Request.URL.Path,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// scope extracts the consumer and repository scope of a request. Unset scopes
// are the null sentinel.
func scope(c *gin.Context) (consumerID string, repoID string, ok bool) {
	consumerID, repoID = resolver.Null, resolver.Null
	switch c.Param("scope") {
	case scopeConsumer:
		consumerID = c.Param("id")
	case scopeRepository:
		repoID = c.Param("id")
	case "":
		if user, pass, found := c.Request.BasicAuth(); found {
			if user != "" {
				consumerID = user
			}
			if pass != "" {
				repoID = pass
			}
		}
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown scope " + c.Param("scope")})
		return "", "", false
	}
	return consumerID, repoID, true
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, resolver.ErrAuthScope) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	log.Errorw("release query failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
