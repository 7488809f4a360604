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
	corev1 "k8s.io/api/core/v1"

	"github.com/shipcat/shipcat/pkg/config"
)

// Source is the main manifest, read from services/<svc>/manifest.yml.
type Source struct {
	Name     *string   `json:"name,omitempty"`
	External bool      `json:"external,omitempty"`
	Disabled bool      `json:"disabled,omitempty"`
	Regions  []string  `json:"regions,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`

	Overrides `json:",inline"`
}

// Overrides are read from the environment and region files,
// e.g. services/<svc>/dev.yml and services/<svc>/dev-uk.yml.
type Overrides struct {
	PubliclyAccessible *bool             `json:"publiclyAccessible,omitempty"`
	Image              *string           `json:"image,omitempty"`
	ImageSize          *int32            `json:"imageSize,omitempty"`
	Version            *string           `json:"version,omitempty"`
	Command            []string          `json:"command,omitempty"`
	Resources          *Resources        `json:"resources,omitempty"`
	SecretFiles        map[string]string `json:"secretFiles,omitempty"`
	Configs            *ConfigMap        `json:"configs,omitempty"`
	HTTPPort           *int32            `json:"httpPort,omitempty"`
	Ports              []Port            `json:"ports,omitempty"`
	Health             *HealthCheck      `json:"health,omitempty"`
	Dependencies       []Dependency      `json:"dependencies,omitempty"`
	ReadinessProbe     *corev1.Probe     `json:"readinessProbe,omitempty"`
	LivenessProbe      *corev1.Probe     `json:"livenessProbe,omitempty"`
	AutoScaling        *AutoScaling      `json:"autoScaling,omitempty"`
	ServiceAnnotations map[string]string `json:"serviceAnnotations,omitempty"`
	PodAnnotations     map[string]string `json:"podAnnotations,omitempty"`
	Labels             map[string]string `json:"labels,omitempty"`
	Hosts              []string          `json:"hosts,omitempty"`
	Kong               *Kong             `json:"kong,omitempty"`

	Defaults `json:",inline"`
}

// Defaults can be set globally and per region in shipcat.conf,
// and overridden by every manifest source.
type Defaults struct {
	ImagePrefix  *string           `json:"imagePrefix,omitempty"`
	Chart        *string           `json:"chart,omitempty"`
	ReplicaCount *int32            `json:"replicaCount,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

// DefaultsFromConfig converts the shipcat.conf defaults.
func DefaultsFromConfig(d config.ManifestDefaults) Defaults {
	return Defaults{
		ImagePrefix:  d.ImagePrefix,
		Chart:        d.Chart,
		ReplicaCount: d.ReplicaCount,
		Env:          copyMap(d.Env),
	}
}

// Merge returns the defaults with every field set in other taking precedence.
// Env keys are unioned, other wins on conflicts.
func (d Defaults) Merge(other Defaults) Defaults {
	return Defaults{
		ImagePrefix:  pick(d.ImagePrefix, other.ImagePrefix),
		Chart:        pick(d.Chart, other.Chart),
		ReplicaCount: pick(d.ReplicaCount, other.ReplicaCount),
		Env:          mergeMaps(d.Env, other.Env),
	}
}

// Merge returns the overrides with every field set in other taking precedence.
// Lists are replaced, maps are unioned with other winning on conflicts.
func (o Overrides) Merge(other Overrides) Overrides {
	return Overrides{
		PubliclyAccessible: pick(o.PubliclyAccessible, other.PubliclyAccessible),
		Image:              pick(o.Image, other.Image),
		ImageSize:          pick(o.ImageSize, other.ImageSize),
		Version:            pick(o.Version, other.Version),
		Command:            pickSlice(o.Command, other.Command),
		Resources:          pick(o.Resources, other.Resources),
		SecretFiles:        mergeMaps(o.SecretFiles, other.SecretFiles),
		Configs:            pick(o.Configs, other.Configs),
		HTTPPort:           pick(o.HTTPPort, other.HTTPPort),
		Ports:              pickSlice(o.Ports, other.Ports),
		Health:             pick(o.Health, other.Health),
		Dependencies:       pickSlice(o.Dependencies, other.Dependencies),
		ReadinessProbe:     pick(o.ReadinessProbe, other.ReadinessProbe),
		LivenessProbe:      pick(o.LivenessProbe, other.LivenessProbe),
		AutoScaling:        pick(o.AutoScaling, other.AutoScaling),
		ServiceAnnotations: mergeMaps(o.ServiceAnnotations, other.ServiceAnnotations),
		PodAnnotations:     mergeMaps(o.PodAnnotations, other.PodAnnotations),
		Labels:             mergeMaps(o.Labels, other.Labels),
		Hosts:              pickSlice(o.Hosts, other.Hosts),
		Kong:               pick(o.Kong, other.Kong),
		Defaults:           o.Defaults.Merge(other.Defaults),
	}
}

// MergeOverrides applies the given overrides on top of the source.
func (s Source) MergeOverrides(other Overrides) Source {
	s.Overrides = s.Overrides.Merge(other)
	return s
}

// WithDefaults places the given defaults underneath the source defaults.
func (s Source) WithDefaults(d Defaults) Source {
	s.Overrides.Defaults = d.Merge(s.Overrides.Defaults)
	return s
}

func pick[T any](a, b *T) *T {
	if b != nil {
		return b
	}
	return a
}

func pickSlice[T any](a, b []T) []T {
	if b != nil {
		return b
	}
	return a
}

func mergeMaps(a, b map[string]string) map[string]string {
	if a == nil && b == nil {
		return nil
	}
	m := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		m[k] = v
	}
	for k, v := range b {
		m[k] = v
	}
	return m
}
