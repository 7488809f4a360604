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

	"github.com/shipcat/shipcat/pkg/config"
)

const defaultImageSize int32 = 512

// Build completes the source for the given region.
// Config file templates are read relative to the root of the manifests repository.
func (s Source) Build(root string, conf *config.Config, region *config.Region) (*Manifest, error) {
	if s.Name == nil || *s.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	name := *s.Name

	metadata, err := s.buildMetadata(conf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	image, err := s.buildImage(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	configs, err := s.buildConfigs(root, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	o := s.Overrides
	mf := &Manifest{
		Name:               name,
		PubliclyAccessible: o.PubliclyAccessible != nil && *o.PubliclyAccessible,
		External:           s.External,
		Disabled:           s.Disabled,
		Regions:            copySlice(s.Regions),
		Metadata:           metadata,
		Image:              image,
		ImageSize:          defaultImageSize,
		Command:            copySlice(o.Command),
		Resources:          o.Resources,
		ReplicaCount:       o.ReplicaCount,
		Env:                mergeMaps(region.Env, o.Env),
		SecretFiles:        copyMap(o.SecretFiles),
		Configs:            configs,
		HTTPPort:           o.HTTPPort,
		Ports:              append([]Port(nil), o.Ports...),
		Health:             o.Health,
		Dependencies:       append([]Dependency(nil), o.Dependencies...),
		ReadinessProbe:     o.ReadinessProbe,
		LivenessProbe:      o.LivenessProbe,
		AutoScaling:        o.AutoScaling,
		ServiceAnnotations: copyMap(o.ServiceAnnotations),
		PodAnnotations:     copyMap(o.PodAnnotations),
		Labels:             copyMap(o.Labels),
		Hosts:              copySlice(o.Hosts),
		Kong:               o.Kong,
		Region:             region.Name,
		Environment:        region.Environment,
		Namespace:          region.Namespace,
	}
	if o.ImageSize != nil {
		mf.ImageSize = *o.ImageSize
	}
	if o.Version != nil {
		mf.Version = *o.Version
	}
	if o.Chart != nil {
		mf.Chart = *o.Chart
	}

	return mf, nil
}

func (s Source) buildImage(name string) (string, error) {
	if s.Image != nil && *s.Image != "" {
		return *s.Image, nil
	}
	if s.ImagePrefix != nil && *s.ImagePrefix != "" {
		return fmt.Sprintf("%s/%s", *s.ImagePrefix, name), nil
	}
	return "", fmt.Errorf("image prefix is not defined")
}

func (s Source) buildMetadata(conf *config.Config) (*Metadata, error) {
	if s.Metadata == nil {
		return nil, fmt.Errorf("metadata is required")
	}
	md := *s.Metadata
	md.Maintainers = copySlice(s.Metadata.Maintainers)

	team, ok := conf.FindTeam(md.Team)
	if !ok {
		return nil, fmt.Errorf("the team name %q must match one of the team names in %s", md.Team, config.DefaultConfigFile)
	}
	if md.Support == "" {
		md.Support = team.Support
	}
	if md.Notifications == "" {
		md.Notifications = team.Notifications
	}
	return &md, nil
}

func (s Source) buildConfigs(root, name string) (*ConfigMap, error) {
	if s.Configs == nil {
		return nil, nil
	}

	configs := &ConfigMap{
		Name:      s.Configs.Name,
		MountPath: s.Configs.MountPath,
		Files:     make([]ConfigMappedFile, 0, len(s.Configs.Files)),
	}
	if configs.Name == "" {
		configs.Name = name + "-config"
	}

	for _, f := range s.Configs.Files {
		data, err := readTemplateFile(root, name, f.Name)
		if err != nil {
			return nil, err
		}
		configs.Files = append(configs.Files, ConfigMappedFile{
			Name:  f.Name,
			Dest:  f.Dest,
			Value: &data,
		})
	}
	return configs, nil
}

// readTemplateFile reads services/<svc>/<tmpl> or falls back to templates/<tmpl>.
func readTemplateFile(root, svc, tmpl string) (string, error) {
	servicePath := filepath.Join(root, ServicesDir, svc, tmpl)
	globalPath := filepath.Join(root, TemplatesDir, tmpl)

	for _, p := range []string{servicePath, globalPath} {
		data, err := os.ReadFile(p)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}

	return "", fmt.Errorf("template %s does not exist in neither %s nor %s", tmpl, servicePath, globalPath)
}
