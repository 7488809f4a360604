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

package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/shipcat/shipcat/pkg/config"
)

const (
	ServicesDir  = "services"
	TemplatesDir = "templates"
	ManifestFile = "manifest.yml"
)

// Load reads the manifest sources of the given service, merges them in order
// global defaults < region defaults < manifest.yml < <env>.yml < <region>.yml,
// and builds the manifest for the region.
func Load(root, svc string, conf *config.Config, region *config.Region) (*Manifest, error) {
	src, err := LoadSource(root, svc, conf, region)
	if err != nil {
		return nil, err
	}
	return src.Build(root, conf, region)
}

// LoadSource reads and merges the manifest sources without building them.
func LoadSource(root, svc string, conf *config.Config, region *config.Region) (*Source, error) {
	src, err := readSource(root, svc)
	if err != nil {
		return nil, err
	}

	defaults := DefaultsFromConfig(conf.Defaults).Merge(DefaultsFromConfig(region.Defaults))
	merged := src.WithDefaults(defaults)

	for _, name := range []string{region.Environment, region.Name} {
		if name == "" {
			continue
		}
		ov, found, err := readOverrides(filepath.Join(root, ServicesDir, svc, name+".yml"))
		if err != nil {
			return nil, err
		}
		if found {
			merged = merged.MergeOverrides(*ov)
		}
	}

	return &merged, nil
}

func readSource(root, svc string) (*Source, error) {
	p := filepath.Join(root, ServicesDir, svc, ManifestFile)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("service %s does not exist, %s not found", svc, p)
		}
		return nil, err
	}

	src := &Source{}
	if err := yaml.UnmarshalStrict(data, src); err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}

	if src.Name != nil && *src.Name != svc {
		return nil, fmt.Errorf("%s: name %q does not match the service folder %q", p, *src.Name, svc)
	}
	if src.Name == nil {
		name := svc
		src.Name = &name
	}

	return src, nil
}

func readOverrides(p string) (*Overrides, bool, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	ov := &Overrides{}
	if err := yaml.UnmarshalStrict(data, ov); err != nil {
		return nil, false, fmt.Errorf("%s: %w", p, err)
	}
	return ov, true, nil
}

// Available returns the sorted names of all services in the manifests repository.
func Available(root string) ([]string, error) {
	dir := filepath.Join(root, ServicesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var services []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), ManifestFile)); err == nil {
			services = append(services, e.Name())
		}
	}
	sort.Strings(services)
	return services, nil
}

// ForRegion returns the sorted names of the services enabled in the given region.
func ForRegion(root string, region *config.Region) ([]string, error) {
	all, err := Available(root)
	if err != nil {
		return nil, err
	}

	var services []string
	for _, svc := range all {
		src, err := readSource(root, svc)
		if err != nil {
			return nil, err
		}
		if !src.Disabled && contains(src.Regions, region.Name) {
			services = append(services, svc)
		}
	}
	return services, nil
}
