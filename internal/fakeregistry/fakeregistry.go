// Package fakeregistry is an in-process npm registry and local git remote
// used by protocol and scheduler tests, grounded on the
// httptest.Server-plus-gorilla/mux test-server shape used throughout
// registry/handlers' own test suite (see helpers_test.go, api_test.go).
package fakeregistry

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// versionMeta is one published version of a package.
type versionMeta struct {
	Manifest map[string]any
	Tarball  []byte
	Shasum   string
}

type pkgMeta struct {
	distTags map[string]string
	versions map[string]versionMeta
}

// Registry is an in-memory npm-compatible registry server.
type Registry struct {
	mu       sync.Mutex
	packages map[string]*pkgMeta
	server   *httptest.Server
}

// NewRegistry starts a Registry listening on a loopback httptest.Server.
func NewRegistry() *Registry {
	r := &Registry{packages: map[string]*pkgMeta{}}
	router := mux.NewRouter()
	router.HandleFunc("/{scope:@[^/]+}/{name}/-/{file}", r.handleTarball).Methods(http.MethodGet)
	router.HandleFunc("/{name}/-/{file}", r.handleTarball).Methods(http.MethodGet)
	router.HandleFunc("/{scope:@[^/]+}/{name}", r.handleMetadata).Methods(http.MethodGet)
	router.HandleFunc("/{name}", r.handleMetadata).Methods(http.MethodGet)
	r.server = httptest.NewServer(router)
	return r
}

// URL returns the registry's base URL, suitable as npmRegistryServer.
func (r *Registry) URL() string { return r.server.URL }

// Close shuts the server down.
func (r *Registry) Close() { r.server.Close() }

func fullName(vars map[string]string) string {
	if scope, ok := vars["scope"]; ok {
		return scope + "/" + vars["name"]
	}
	return vars["name"]
}

// PublishVersion registers one version of a package, computing its tarball
// URL and dist.shasum entries the way a real registry response does.
func (r *Registry) PublishVersion(name, version string, manifest map[string]any, tarball []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.packages[name]
	if !ok {
		p = &pkgMeta{distTags: map[string]string{}, versions: map[string]versionMeta{}}
		r.packages[name] = p
	}

	sum := sha1.Sum(tarball)
	shasum := fmt.Sprintf("%x", sum[:])
	manifestCopy := map[string]any{}
	for k, v := range manifest {
		manifestCopy[k] = v
	}
	manifestCopy["name"] = name
	manifestCopy["version"] = version
	manifestCopy["dist"] = map[string]any{
		"shasum":  shasum,
		"tarball": r.server.URL + "/" + name + "/-/" + tarballFilename(name, version),
	}
	p.versions[version] = versionMeta{Manifest: manifestCopy, Tarball: tarball, Shasum: shasum}
	p.distTags["latest"] = latestOf(p)
}

func latestOf(p *pkgMeta) string {
	versions := make([]string, 0, len(p.versions))
	for v := range p.versions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	if len(versions) == 0 {
		return ""
	}
	return versions[len(versions)-1]
}

func tarballFilename(name, version string) string {
	slug := name
	if len(name) > 0 && name[0] == '@' {
		for i, c := range name {
			if c == '/' {
				slug = name[i+1:]
				break
			}
		}
	}
	return fmt.Sprintf("%s-%s.tgz", slug, version)
}

func (r *Registry) handleMetadata(w http.ResponseWriter, req *http.Request) {
	name := fullName(mux.Vars(req))

	r.mu.Lock()
	p, ok := r.packages[name]
	r.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	r.mu.Lock()
	versions := map[string]any{}
	for v, vm := range p.versions {
		versions[v] = vm.Manifest
	}
	doc := map[string]any{
		"name":     name,
		"dist-tags": p.distTags,
		"versions": versions,
	}
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (r *Registry) handleTarball(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	name := fullName(vars)
	file := vars["file"]

	r.mu.Lock()
	p, ok := r.packages[name]
	r.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	r.mu.Lock()
	var found *versionMeta
	for v := range p.versions {
		if file == tarballFilename(name, v) {
			vm := p.versions[v]
			found = &vm
			break
		}
	}
	r.mu.Unlock()
	if found == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(found.Tarball)
}

// LatencyMiddleware wraps h to simulate a slow upstream, used by scheduler
// concurrency tests that need requests to stay in flight briefly.
func LatencyMiddleware(delay time.Duration, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		h.ServeHTTP(w, r)
	})
}
