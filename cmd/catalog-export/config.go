package main

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching/catalog"
)

type Config struct {
	URL     string
	OutPath string
	Timeout time.Duration
	Retries int
	Verbose bool
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("missing -url")
	}
	if c.OutPath == "" {
		return errors.New("missing -out")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}
	if c.Retries < 0 {
		return errors.New("retries must be >= 0")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		URL:     catalog.DefaultURL,
		OutPath: filepath.FromSlash("pangeo_catalog.csv"),
		Timeout: 10 * time.Minute,
	}
}
