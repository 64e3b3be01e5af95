package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/normanking/lipsync/internal/viseme"
)

// calibrationFile is the on-disk YAML shape for per-speaker template
// banks:
//
//	visemes:
//	  A:
//	    - frames:
//	        - [18.2, -4.1, ...]
//	        - [19.6, -4.8, ...]
type calibrationFile struct {
	Visemes map[string][]struct {
		Frames [][]float64 `yaml:"frames"`
	} `yaml:"visemes"`
}

// LoadCalibrationFile parses one YAML calibration file into a Bank.
func LoadCalibrationFile(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration %s: %w", path, err)
	}
	return parseCalibration(data, path)
}

// LoadCalibrationDir merges every *.yaml / *.yml file in dir into a
// single Bank. Later files (lexical order) extend earlier ones;
// variants for the same category accumulate.
func LoadCalibrationDir(dir string) (*Bank, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read calibration dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	merged := make(map[viseme.Viseme][]Template)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read calibration %s: %w", p, err)
		}
		var cf calibrationFile
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("parse calibration %s: %w", p, err)
		}
		for name, variants := range cf.Visemes {
			cat := viseme.Viseme(strings.ToUpper(name))
			for _, v := range variants {
				merged[cat] = append(merged[cat], Template{Frames: v.Frames})
			}
		}
	}

	return Load(merged)
}

func parseCalibration(data []byte, path string) (*Bank, error) {
	var cf calibrationFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}

	templates := make(map[viseme.Viseme][]Template, len(cf.Visemes))
	for name, variants := range cf.Visemes {
		cat := viseme.Viseme(strings.ToUpper(name))
		for _, v := range variants {
			templates[cat] = append(templates[cat], Template{Frames: v.Frames})
		}
	}
	return Load(templates)
}
