package main

import (
	"github.com/theimaginaryfoundation/cmip-stitch/stitching"
)

type Config struct {
	// OptionsPath is an optional YAML file decoded over the defaults before flags apply.
	OptionsPath string

	PrintSchema bool
	Verbose     bool

	Options stitching.Options
}

func (c Config) Validate() error {
	if c.PrintSchema {
		return nil
	}
	return c.Options.Validate()
}

func defaultConfig() Config {
	return Config{Options: stitching.DefaultOptions()}
}
