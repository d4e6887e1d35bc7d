package signals

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/mod/modfile"

	"repo-sentinel/internal/model"
)

// Ecosystem identifiers attached to extracted dependencies.
const (
	EcosystemNPM  = "npm"
	EcosystemPyPI = "pypi"
	EcosystemGo   = "gomod"
)

// DependencyExtractor reads declared dependencies out of the manifest
// files present in a checked-out tree. Missing manifests are not an
// error; a repository with no recognized manifest yields an empty list.
type DependencyExtractor struct{}

// NewDependencyExtractor returns a ready extractor.
func NewDependencyExtractor() *DependencyExtractor {
	return &DependencyExtractor{}
}

// Extract collects dependencies from package.json, requirements.txt and
// go.mod at the root of repoPath. A manifest that exists but fails to
// parse is logged and skipped.
func (e *DependencyExtractor) Extract(repoPath string) []model.DependencyRecord {
	var deps []model.DependencyRecord

	parsers := []struct {
		manifest string
		parse    func([]byte) ([]model.DependencyRecord, error)
	}{
		{"package.json", parsePackageJSON},
		{"requirements.txt", parseRequirements},
		{"go.mod", parseGoMod},
	}

	for _, p := range parsers {
		path := filepath.Join(repoPath, p.manifest)
		data, err := os.ReadFile(path) // #nosec G304 -- path rooted in the job workdir
		if err != nil {
			if !os.IsNotExist(err) {
				log.Warn().Err(err).Str("manifest", p.manifest).Msg("reading manifest")
			}
			continue
		}
		parsed, err := p.parse(data)
		if err != nil {
			log.Warn().Err(err).Str("manifest", p.manifest).Msg("skipping unparseable manifest")
			continue
		}
		deps = append(deps, parsed...)
	}

	sort.SliceStable(deps, func(i, j int) bool {
		if deps[i].Ecosystem != deps[j].Ecosystem {
			return deps[i].Ecosystem < deps[j].Ecosystem
		}
		return deps[i].Name < deps[j].Name
	})
	return deps
}

func parsePackageJSON(data []byte) ([]model.DependencyRecord, error) {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing package.json: %w", err)
	}

	var deps []model.DependencyRecord
	for _, section := range []map[string]string{manifest.Dependencies, manifest.DevDependencies} {
		for name, version := range section {
			deps = append(deps, model.DependencyRecord{
				Name:      name,
				Version:   version,
				Ecosystem: EcosystemNPM,
			})
		}
	}
	return deps, nil
}

// parseRequirements handles the common pip requirement forms: pinned
// versions, ranges, bare names, and inline comments. Directives
// (-r, -e, --index-url) are skipped.
func parseRequirements(data []byte) ([]model.DependencyRecord, error) {
	var deps []model.DependencyRecord
	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		name, version := splitRequirement(line)
		if name == "" {
			continue
		}
		deps = append(deps, model.DependencyRecord{
			Name:      strings.ToLower(name),
			Version:   version,
			Ecosystem: EcosystemPyPI,
		})
	}
	return deps, nil
}

func splitRequirement(line string) (name, version string) {
	// Environment markers follow ';' and contain comparison operators of
	// their own, so they go before the operator scan.
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	for _, op := range []string{"==", ">=", "<=", "~=", "!=", ">", "<"} {
		if i := strings.Index(line, op); i >= 0 {
			version = strings.TrimSpace(line[i+len(op):])
			line = line[:i]
			break
		}
	}
	name = line
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i] // extras
	}
	return strings.TrimSpace(name), version
}

func parseGoMod(data []byte) ([]model.DependencyRecord, error) {
	f, err := modfile.ParseLax("go.mod", data, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing go.mod: %w", err)
	}

	var deps []model.DependencyRecord
	for _, req := range f.Require {
		if req.Indirect {
			continue
		}
		deps = append(deps, model.DependencyRecord{
			Name:      req.Mod.Path,
			Version:   req.Mod.Version,
			Ecosystem: EcosystemGo,
		})
	}
	return deps, nil
}
