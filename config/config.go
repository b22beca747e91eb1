// Package config loads the operator-provided YAML configuration file into
// model.Config, the immutable session configuration applied to every
// component constructor at startup (spec.md §6 "process-wide state: none;
// configuration is loaded at startup"). Grounded on the teacher's use of
// gopkg.in/yaml.v3 for config decoding.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"pressurecal/errcode"
	"pressurecal/model"
	"pressurecal/x/strx"
)

// Load reads and parses path into a model.Config.
func Load(path string) (model.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, errcode.Wrap("config.Load", errcode.Error, err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, errcode.Wrap("config.Load", errcode.Error, err)
	}
	cfg.LearnedStore = strx.Coalesce(cfg.LearnedStore, "learned_positions.yaml")
	cfg.ResultPath = strx.Coalesce(cfg.ResultPath, "results.csv")
	if err := validate(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

func validate(cfg model.Config) error {
	if cfg.FS <= 0 {
		return errcode.Wrap("config.validate", errcode.OutOfRangeInput, nil)
	}
	for _, d := range cfg.DUTs {
		if d.Channel < 0 || d.Channel > 3 {
			return errcode.Wrap("config.validate", errcode.OutOfRangeInput, nil)
		}
		if d.FS <= 0 {
			return errcode.Wrap("config.validate", errcode.OutOfRangeInput, nil)
		}
	}
	return nil
}
