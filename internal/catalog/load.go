package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"
)

// Load reads a catalog from a .cue file, a .yaml/.yml file, or a directory
// holding one CUE package.
func Load(path string) ([]Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if info.IsDir() {
		return LoadCUEDir(path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return LoadCUEFile(path)
	case ".yaml", ".yml":
		return LoadYAMLFile(path)
	}
	return nil, fmt.Errorf("catalog: unsupported file type %q", filepath.Ext(path))
}

// LoadCUEDir builds the CUE package in dir.
func LoadCUEDir(dir string) ([]Entry, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("catalog: no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("catalog: loading %s: %w", dir, inst.Err)
	}
	ctx := cuecontext.New()
	return check(ctx, ctx.BuildInstance(inst))
}

// LoadCUEFile compiles a single CUE file.
func LoadCUEFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return ParseCUE(path, data)
}

// ParseCUE compiles CUE source; filename is used in error positions.
func ParseCUE(filename string, src []byte) ([]Entry, error) {
	ctx := cuecontext.New()
	return check(ctx, ctx.CompileBytes(src, cue.Filename(filename)))
}

// LoadYAMLFile reads a YAML catalog.
func LoadYAMLFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes YAML and validates it against the same schema as CUE
// catalogs. Unquoted amounts are kept as written.
func ParseYAML(data []byte) ([]Entry, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("catalog: parse yaml: %w", err)
	}
	if f.Subscription == nil {
		f.Subscription = map[string]Entry{}
	}
	ctx := cuecontext.New()
	return check(ctx, ctx.Encode(f))
}
