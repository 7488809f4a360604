/*
Copyright 2022 The Shipcat Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fluxcd/pkg/ssa"
	"sigs.k8s.io/yaml"
)

const (
	DefaultConfigFile       = "shipcat.conf"
	ShipcatFieldManagerName = "shipcat"
	ShipcatGroup            = "babylontech.co.uk"
	ShipcatOwnerGroup       = "shipcat." + ShipcatGroup
)

// Config is the repository wide configuration read from shipcat.conf.
type Config struct {
	// Defaults holds the manifest defaults shared by all regions.
	Defaults ManifestDefaults `json:"defaults,omitempty"`

	// Regions holds the list of deployment targets.
	Regions []Region `json:"regions"`

	// Clusters maps the cluster names to their connection details.
	Clusters map[string]Cluster `json:"clusters"`

	// Teams holds the list of teams allowed to own services.
	Teams []Team `json:"teams"`

	Slack Slack `json:"slack,omitempty"`

	// ApplyOrder holds the list of the Kubernetes API Kinds that
	// describes in which order they are reconciled.
	ApplyOrder *KindOrder `json:"applyOrder,omitempty"`

	// FieldManager holds the manager name and group used for server-side apply.
	FieldManager *FieldManager `json:"fieldManager,omitempty"`
}

type FieldManager struct {
	// Name sets the field manager for the reconciled objects.
	Name string `json:"name"`

	// Group sets the owner label key prefix.
	Group string `json:"group"`
}

// KindOrder holds the list of the Kubernetes API Kinds that
// describes in which order they are reconciled.
type KindOrder struct {
	// First contains the list of Kubernetes API Kinds
	// that are applied first and delete last.
	First []string `json:"first"`

	// Last contains the list of Kubernetes API Kinds
	// that are applied last and delete first.
	Last []string `json:"last"`
}

// ManifestDefaults are merged underneath every service manifest.
type ManifestDefaults struct {
	ImagePrefix  *string           `json:"imagePrefix,omitempty"`
	Chart        *string           `json:"chart,omitempty"`
	ReplicaCount *int32            `json:"replicaCount,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

// Team is a group of people owning services.
type Team struct {
	Name          string `json:"name"`
	Support       string `json:"support,omitempty"`
	Notifications string `json:"notifications,omitempty"`
}

// Slack holds the workspace used to build channel links.
type Slack struct {
	Team string `json:"team,omitempty"`
}

// Link returns the deep link of the given channel.
func (s Slack) Link(channel string) string {
	if s.Team == "" {
		return channel
	}
	return fmt.Sprintf("slack://channel?team=%s&id=%s", s.Team, trimHash(channel))
}

func trimHash(channel string) string {
	if len(channel) > 0 && channel[0] == '#' {
		return channel[1:]
	}
	return channel
}

// NewConfig returns an empty config with the default apply order and field manager.
func NewConfig() *Config {
	return &Config{
		Clusters:     map[string]Cluster{},
		ApplyOrder:   defaultKindOrder(),
		FieldManager: defaultFieldManager(),
	}
}

func defaultKindOrder() *KindOrder {
	return &KindOrder{
		First: ssa.ReconcileOrder.First,
		Last:  ssa.ReconcileOrder.Last,
	}
}

func defaultFieldManager() *FieldManager {
	return &FieldManager{
		Name:  ShipcatFieldManagerName,
		Group: ShipcatOwnerGroup,
	}
}

// Read loads the config from the specified path,
// if no path is given, shipcat.conf in the working directory is used.
func Read(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigFile
	}

	cfgData, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s not found, shipcat must run from the root of a manifests repository", configPath)
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.UnmarshalStrict(cfgData, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}

	if cfg.ApplyOrder == nil {
		cfg.ApplyOrder = defaultKindOrder()
	}

	if cfg.FieldManager == nil {
		cfg.FieldManager = defaultFieldManager()
	}

	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}

	return cfg, nil
}

// Verify checks the cross references between regions, clusters and teams.
func (c *Config) Verify() error {
	if c.FieldManager.Name == "" {
		return fmt.Errorf("the field manager name can't be empty")
	}

	if c.FieldManager.Group == "" {
		return fmt.Errorf("the field manager group can't be empty")
	}

	seen := make(map[string]bool, len(c.Regions))
	for _, r := range c.Regions {
		if r.Name == "" {
			return fmt.Errorf("regions must have a name")
		}
		if seen[r.Name] {
			return fmt.Errorf("region %s is defined more than once", r.Name)
		}
		seen[r.Name] = true

		if r.Namespace == "" {
			return fmt.Errorf("region %s has no namespace", r.Name)
		}
		if _, ok := c.Clusters[r.Cluster]; !ok {
			return fmt.Errorf("region %s references unknown cluster %q", r.Name, r.Cluster)
		}
		if err := r.VersioningScheme.Verify(); err != nil {
			return fmt.Errorf("region %s: %w", r.Name, err)
		}
		if err := r.Secrets.Verify(); err != nil {
			return fmt.Errorf("region %s: %w", r.Name, err)
		}
	}

	teams := make(map[string]bool, len(c.Teams))
	for _, t := range c.Teams {
		if teams[t.Name] {
			return fmt.Errorf("team %s is defined more than once", t.Name)
		}
		teams[t.Name] = true
	}

	return nil
}

// GetRegion returns the region with the given name.
func (c *Config) GetRegion(name string) (*Region, error) {
	for i := range c.Regions {
		if c.Regions[i].Name == name {
			return &c.Regions[i], nil
		}
	}
	return nil, fmt.Errorf("region %q not found in %s", name, DefaultConfigFile)
}

// RegionNames returns the sorted list of region names.
func (c *Config) RegionNames() []string {
	names := make([]string, 0, len(c.Regions))
	for _, r := range c.Regions {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// FindOwningCluster returns the cluster serving the given region, if any.
func (c *Config) FindOwningCluster(region *Region) (*Cluster, bool) {
	cluster, ok := c.Clusters[region.Cluster]
	if !ok {
		return nil, false
	}
	if cluster.Name == "" {
		cluster.Name = region.Cluster
	}
	return &cluster, true
}

// FindTeam returns the team with the given name.
func (c *Config) FindTeam(name string) (*Team, bool) {
	for i := range c.Teams {
		if c.Teams[i].Name == name {
			return &c.Teams[i], true
		}
	}
	return nil, false
}

// Write saves the config at the given path.
func (c *Config) Write(configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigFile
	}

	if err := os.MkdirAll(filepath.Dir(configPath), os.FileMode(0755)); err != nil {
		return err
	}

	cfgData, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, cfgData, os.FileMode(0644))
}
