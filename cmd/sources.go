package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/datasources/json"
	"github.com/cube2222/octoframe/datasources/parquet"
	"github.com/cube2222/octoframe/frame"
	"github.com/cube2222/octoframe/plan"
)

// sourceCreators build sources from the options of a configured source.
var sourceCreators = map[string]func(options map[string]interface{}) (plan.Source, error){
	"json": func(options map[string]interface{}) (plan.Source, error) {
		path, err := config.GetString(options, "path")
		if err != nil {
			return nil, fmt.Errorf("couldn't get path: %w", err)
		}
		sampleSize, err := config.GetInt(options, "sample_size", config.WithDefault(json.DefaultSampleSize))
		if err != nil {
			return nil, fmt.Errorf("couldn't get sample size: %w", err)
		}
		source, err := json.Infer(path, sampleSize)
		if err != nil {
			return nil, err
		}
		return source, nil
	},
	"parquet": func(options map[string]interface{}) (plan.Source, error) {
		path, err := config.GetString(options, "path")
		if err != nil {
			return nil, fmt.Errorf("couldn't get path: %w", err)
		}
		source, err := parquet.NewSource(path)
		if err != nil {
			return nil, err
		}
		return source, nil
	},
}

// fileHandlers open files named directly on the command line, by extension.
var fileHandlers = map[string]string{
	".json":    "json",
	".ndjson":  "json",
	".parquet": "parquet",
}

func loadCatalog(cfg *config.Config) (*plan.Catalog, error) {
	sources := make(map[string]plan.Source, len(cfg.Sources))
	for _, sourceConfig := range cfg.Sources {
		creator, ok := sourceCreators[sourceConfig.Type]
		if !ok {
			return nil, fmt.Errorf("source %s has unknown type %s", sourceConfig.Name, sourceConfig.Type)
		}
		source, err := creator(sourceConfig.Options)
		if err != nil {
			return nil, fmt.Errorf("couldn't create source %s: %w", sourceConfig.Name, err)
		}
		sources[sourceConfig.Name] = source
	}
	return plan.NewCatalog(sources), nil
}

// scanTable scans a configured source, or a file with a known extension.
func scanTable(catalog *plan.Catalog, name string) (frame.LazyFrame, error) {
	if _, err := catalog.Lookup(name); err == nil {
		return frame.Scan(catalog, name)
	}
	sourceType, ok := fileHandlers[filepath.Ext(name)]
	if !ok {
		return frame.Scan(catalog, name)
	}
	if _, err := os.Stat(name); err != nil {
		return frame.LazyFrame{}, fmt.Errorf("couldn't stat %s: %w", name, err)
	}
	source, err := sourceCreators[sourceType](map[string]interface{}{"path": name})
	if err != nil {
		return frame.LazyFrame{}, fmt.Errorf("couldn't open %s: %w", name, err)
	}
	return frame.Scan(catalog.With(name, source), name)
}
