package cycles

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// sourceRoots are directory names stripped before the layer is taken.
var sourceRoots = map[string]bool{
	"src":      true,
	"lib":      true,
	"internal": true,
	"pkg":      true,
	"app":      true,
}

// rootLayer names files that sit directly in the source root.
const rootLayer = "(root)"

// LayerRule maps files matching Pattern to Layer. Pattern uses path.Match
// syntax against the slash-separated path; a trailing "/**" matches every
// file below the directory.
type LayerRule struct {
	Pattern string `yaml:"pattern" json:"pattern" koanf:"pattern"`
	Layer   string `yaml:"layer" json:"layer" koanf:"layer"`
}

// LayerTable is an ordered list of layer rules. The first match wins.
type LayerTable []LayerRule

type layerFile struct {
	Layers LayerTable `yaml:"layers"`
}

// LoadLayerTable reads a YAML file of the form:
//
//	layers:
//	  - pattern: "src/cli/**"
//	    layer: presentation
func LoadLayerTable(filePath string) (LayerTable, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer table: %w", err)
	}
	var lf layerFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("failed to parse layer table %s: %w", filePath, err)
	}
	for i, r := range lf.Layers {
		if r.Pattern == "" || r.Layer == "" {
			return nil, fmt.Errorf("layer table %s: rule %d needs pattern and layer", filePath, i)
		}
		if _, err := path.Match(strings.TrimSuffix(r.Pattern, "/**"), ""); err != nil {
			return nil, fmt.Errorf("layer table %s: rule %d: %w", filePath, i, err)
		}
	}
	return lf.Layers, nil
}

func (t LayerTable) lookup(p string) (string, bool) {
	for _, r := range t {
		if dir, ok := strings.CutSuffix(r.Pattern, "/**"); ok {
			if matchesDirPrefix(dir, p) {
				return r.Layer, true
			}
			continue
		}
		if ok, _ := path.Match(r.Pattern, p); ok {
			return r.Layer, true
		}
	}
	return "", false
}

// matchesDirPrefix reports whether the leading directories of p match dir.
func matchesDirPrefix(dir, p string) bool {
	n := strings.Count(dir, "/") + 1
	segments := strings.Split(p, "/")
	if len(segments) <= n {
		return false
	}
	ok, _ := path.Match(dir, strings.Join(segments[:n], "/"))
	return ok
}

// Boundaries derives the file, module and layer of a source path.
type Boundaries struct {
	rootDir string
	table   LayerTable
}

// NewBoundaries creates a resolver. rootDir, when set, is stripped from
// absolute paths first.
func NewBoundaries(rootDir string, table LayerTable) *Boundaries {
	return &Boundaries{rootDir: normalize(rootDir), table: table}
}

// Layer returns the top-level directory under the source root, or the
// layer table's name for the path.
func (b *Boundaries) Layer(filePath string) string {
	layer, _ := b.resolve(filePath)
	return layer
}

// Module returns the layer plus the first directory under it. Files
// directly inside a layer directory belong to the layer's own module.
func (b *Boundaries) Module(filePath string) string {
	_, module := b.resolve(filePath)
	return module
}

func (b *Boundaries) resolve(filePath string) (layer, module string) {
	p := normalize(filePath)
	if b.rootDir != "" {
		if rest, ok := strings.CutPrefix(p, b.rootDir+"/"); ok {
			p = rest
		}
	}
	p = strings.TrimPrefix(p, "/")

	segments := strings.Split(p, "/")
	for i, s := range segments[:len(segments)-1] {
		if sourceRoots[s] {
			segments = segments[i+1:]
			break
		}
	}
	dirs := segments[:len(segments)-1]

	switch len(dirs) {
	case 0:
		layer, module = rootLayer, rootLayer
	case 1:
		layer, module = dirs[0], dirs[0]
	default:
		layer, module = dirs[0], dirs[0]+"/"+dirs[1]
	}

	if mapped, ok := b.table.lookup(p); ok {
		return mapped, mapped + "/" + module
	}
	return layer, module
}

func normalize(p string) string {
	if p == "" {
		return ""
	}
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimSuffix(p, "/")
}
