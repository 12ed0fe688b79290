package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"not-you-kiosk/internal/demographics"
)

// File is the optional overlay named by KIOSK_CONFIG. Nil pointers leave the
// environment value in place.
type File struct {
	API struct {
		BaseURL        *string `json:"base_url" yaml:"base_url" toml:"base_url"`
		Username       *string `json:"username" yaml:"username" toml:"username"`
		Password       *string `json:"password" yaml:"password" toml:"password"`
		TimeoutSeconds *int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
		MaxRetries     *int    `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
		RetryDelayMS   *int    `json:"retry_delay_ms" yaml:"retry_delay_ms" toml:"retry_delay_ms"`
	} `json:"api" yaml:"api" toml:"api"`

	Generator struct {
		Steps          *int     `json:"steps" yaml:"steps" toml:"steps"`
		CFGScale       *float64 `json:"cfg_scale" yaml:"cfg_scale" toml:"cfg_scale"`
		Sampler        *string  `json:"sampler" yaml:"sampler" toml:"sampler"`
		Width          *int     `json:"width" yaml:"width" toml:"width"`
		Height         *int     `json:"height" yaml:"height" toml:"height"`
		Seed           *int64   `json:"seed" yaml:"seed" toml:"seed"`
		NegativePrompt *string  `json:"negative_prompt" yaml:"negative_prompt" toml:"negative_prompt"`
	} `json:"generator" yaml:"generator" toml:"generator"`

	Prompt struct {
		Prefix *string `json:"prefix" yaml:"prefix" toml:"prefix"`
		Suffix *string `json:"suffix" yaml:"suffix" toml:"suffix"`
	} `json:"prompt" yaml:"prompt" toml:"prompt"`

	Archive struct {
		Dir       *string `json:"dir" yaml:"dir" toml:"dir"`
		MaxImages *int    `json:"max_images" yaml:"max_images" toml:"max_images"`
	} `json:"archive" yaml:"archive" toml:"archive"`

	WebAddr *string `json:"web_addr" yaml:"web_addr" toml:"web_addr"`

	// Fields replaces the whole default schema when non-empty.
	Fields []demographics.Field `json:"fields" yaml:"fields" toml:"fields"`
}

// LoadFile reads an overlay based on its extension: .yaml/.yml, .json, .toml.
func LoadFile(path string) (File, error) {
	var fc File
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	case ".json":
		err = json.Unmarshal(b, &fc)
	case ".toml":
		err = toml.Unmarshal(b, &fc)
	default:
		return fc, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, ext)
	}
	if err != nil {
		return fc, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
	}
	return fc, nil
}

func (fc File) apply(cfg *Config) {
	setString(&cfg.API.BaseURL, fc.API.BaseURL)
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	setString(&cfg.API.Username, fc.API.Username)
	if fc.API.Password != nil {
		cfg.API.Password = *fc.API.Password
	}
	if fc.API.TimeoutSeconds != nil {
		cfg.API.Timeout = time.Duration(*fc.API.TimeoutSeconds) * time.Second
	}
	if fc.API.MaxRetries != nil {
		cfg.API.MaxRetries = *fc.API.MaxRetries
	}
	if fc.API.RetryDelayMS != nil {
		cfg.API.RetryDelay = time.Duration(*fc.API.RetryDelayMS) * time.Millisecond
	}

	g := fc.Generator
	if g.Steps != nil {
		cfg.Generator.Steps = *g.Steps
	}
	if g.CFGScale != nil {
		cfg.Generator.CFGScale = *g.CFGScale
	}
	setString(&cfg.Generator.Sampler, g.Sampler)
	if g.Width != nil {
		cfg.Generator.Width = *g.Width
	}
	if g.Height != nil {
		cfg.Generator.Height = *g.Height
	}
	if g.Seed != nil {
		cfg.Generator.Seed = *g.Seed
	}
	setString(&cfg.Generator.NegativePrompt, g.NegativePrompt)

	setString(&cfg.PromptPrefix, fc.Prompt.Prefix)
	setString(&cfg.PromptSuffix, fc.Prompt.Suffix)

	setString(&cfg.ArchiveDir, fc.Archive.Dir)
	if fc.Archive.MaxImages != nil {
		cfg.MaxArchived = *fc.Archive.MaxImages
	}
	setString(&cfg.WebAddr, fc.WebAddr)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}
