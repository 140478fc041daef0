package config

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"

	"github.com/goccy/go-yaml"
)

// Merge folds multiple configuration files into one document. Each argument
// may be a file or a directory of files. Nested mappings merge key by key;
// when two documents set the same scalar, strict makes the collision an
// error, otherwise the later file wins.
func Merge(configFiles []string, strict bool) ([]byte, error) {
	var docs []map[string]any
	for _, root := range configFiles {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			bs, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			var doc map[string]any
			if err := yaml.Unmarshal(bs, &doc); err != nil {
				return fmt.Errorf("failed to unmarshal configuration file %v: %w", path, err)
			}
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	merged := map[string]any{}
	for _, doc := range docs {
		if err := mergeInto(merged, doc, "", strict); err != nil {
			return nil, err
		}
	}
	return yaml.Marshal(merged)
}

func mergeInto(dst, src map[string]any, path string, strict bool) error {
	// Key order is fixed so that conflict errors are deterministic.
	for _, key := range slices.Sorted(maps.Keys(src)) {
		value := src[key]
		existing, present := dst[key]
		if !present {
			dst[key] = value
			continue
		}

		dstMap, dstIsMap := existing.(map[string]any)
		srcMap, srcIsMap := value.(map[string]any)
		if dstIsMap && srcIsMap {
			if err := mergeInto(dstMap, srcMap, path+"/"+key, strict); err != nil {
				return err
			}
			continue
		}

		if strict && !reflect.DeepEqual(existing, value) {
			return fmt.Errorf("conflict for config path %s", path+"/"+key)
		}
		dst[key] = value
	}
	return nil
}
