package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// legacyCaptureKeys are the top level keys of the original capture settings file; they are
// moved under "capture" when read.
var legacyCaptureKeys = []string{
	"camera0",
	"camera1",
	"stereo_calibration_frames",
	"frame_width",
	"frame_height",
	"view_resize",
	"cooldown",
}

// Read reads a config from the given file, expanding environment variables first. Files ending
// in .yaml or .yml are read as YAML, everything else as JSON.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(originalPath)) {
	case ".yaml", ".yml":
		if err := decodeYAML(r, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to decode Config from yaml")
		}
	default:
		if err := json.NewDecoder(r).Decode(cfg); err != nil {
			return nil, errors.Wrap(err, "failed to decode Config from json")
		}
	}
	cfg.ConfigFilePath = originalPath
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "failed to validate Config")
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	var raw map[string]interface{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	capture, _ := raw["capture"].(map[string]interface{})
	for _, key := range legacyCaptureKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if capture == nil {
			capture = map[string]interface{}{}
		}
		if _, set := capture[key]; !set {
			capture[key] = v
		}
		delete(raw, key)
	}
	if capture != nil {
		raw["capture"] = capture
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}
