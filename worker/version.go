package worker

import (
	"strings"

	"github.com/pkg/errors"
)

// State represents the lifecycle state of a controller version
type State string

const (
	// StateParsed represents a version that has not been installed yet
	StateParsed State = "parsed"
	// StateInstalling represents a version seeding its cache area
	StateInstalling State = "installing"
	// StateInstalled represents a seeded version waiting for activation
	StateInstalled State = "installed"
	// StateActivating represents a version removing stale cache areas
	StateActivating State = "activating"
	// StateActivated represents the version in charge of storing responses
	StateActivated State = "activated"
	// StateRedundant represents a version whose install failed
	StateRedundant State = "redundant"
)

// Version identifies the cache area a controller owns
type Version struct {
	// Prefix is shared by all versions of the site, e.g. "off-market"
	Prefix string `yaml:"prefix" env:"PREFIX"`
	// Tag distinguishes deployments, e.g. "v1"
	Tag string `yaml:"tag" env:"TAG"`
}

// Name returns the cache area name of the version
func (v Version) Name() string {
	if v.Prefix == "" {
		return v.Tag
	}
	return v.Prefix + "-" + v.Tag
}

// Validate checks the version can name a cache area
func (v Version) Validate() error {
	if v.Tag == "" {
		return errors.New("version tag is empty")
	}
	if strings.ContainsAny(v.Name(), "\x00/") {
		return errors.Errorf("invalid cache area name %q", v.Name())
	}
	return nil
}
