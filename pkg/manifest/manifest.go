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
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	corev1 "k8s.io/api/core/v1"
)

// SecretMarker is the env or secret file value that is replaced with
// the secret stored under the same key in the secrets backend.
const SecretMarker = "IN_VAULT"

// SecretStub replaces secret values in output that must not leak them.
const SecretStub = "VAULT_SECRET"

// Manifest is the completed description of a service in a region,
// built from the manifest sources, the region and the global defaults.
type Manifest struct {
	Name               string            `json:"name"`
	PubliclyAccessible bool              `json:"publiclyAccessible,omitempty"`
	External           bool              `json:"external,omitempty"`
	Disabled           bool              `json:"disabled,omitempty"`
	Regions            []string          `json:"regions"`
	Metadata           *Metadata         `json:"metadata,omitempty"`
	Chart              string            `json:"chart,omitempty"`
	Image              string            `json:"image,omitempty"`
	ImageSize          int32             `json:"imageSize,omitempty"`
	Version            string            `json:"version,omitempty"`
	Command            []string          `json:"command,omitempty"`
	Resources          *Resources        `json:"resources,omitempty"`
	ReplicaCount       *int32            `json:"replicaCount,omitempty"`
	Env                map[string]string `json:"env,omitempty"`
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
	Region             string            `json:"region"`
	Environment        string            `json:"environment"`
	Namespace          string            `json:"namespace"`
	Secrets            map[string]string `json:"secrets,omitempty"`
}

// Metadata describes the ownership of a service.
type Metadata struct {
	Team          string   `json:"team"`
	Repo          string   `json:"repo"`
	Support       string   `json:"support,omitempty"`
	Notifications string   `json:"notifications,omitempty"`
	Maintainers   []string `json:"maintainers,omitempty"`
	Language      string   `json:"language,omitempty"`
}

// GithubLinkForVersion links to the release of a semver version
// or to the commit of a git sha.
func (md *Metadata) GithubLinkForVersion(version string) string {
	repo := strings.TrimSuffix(md.Repo, "/")
	if _, err := semver.StrictNewVersion(strings.TrimPrefix(version, "v")); err == nil {
		return fmt.Sprintf("%s/releases/tag/%s", repo, version)
	}
	return fmt.Sprintf("%s/commit/%s", repo, version)
}

type Resources struct {
	Requests ResourceList `json:"requests,omitempty"`
	Limits   ResourceList `json:"limits,omitempty"`
}

type ResourceList struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
}

// ConfigMap lists the config files rendered from templates and mounted in the pods.
type ConfigMap struct {
	Name      string             `json:"name,omitempty"`
	MountPath string             `json:"mount"`
	Files     []ConfigMappedFile `json:"files"`
}

type ConfigMappedFile struct {
	// Name of the template, looked up in services/<svc>/ then in templates/.
	Name string `json:"name"`

	// Dest is the file name inside the mount path.
	Dest string `json:"dest"`

	// Value holds the raw template after build and the rendered file after templating.
	Value *string `json:"value,omitempty"`
}

type Port struct {
	Name       string          `json:"name"`
	Port       int32           `json:"port"`
	TargetPort *int32          `json:"targetPort,omitempty"`
	Protocol   corev1.Protocol `json:"protocol,omitempty"`
}

type HealthCheck struct {
	URI string `json:"uri"`

	// Wait is the number of seconds the service needs to boot,
	// unset means the default boot time.
	Wait *int32 `json:"wait,omitempty"`
}

type Dependency struct {
	Name     string `json:"name"`
	API      string `json:"api,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

type AutoScaling struct {
	MinReplicas                    int32  `json:"minReplicas"`
	MaxReplicas                    int32  `json:"maxReplicas"`
	TargetCPUUtilizationPercentage *int32 `json:"targetCPUUtilizationPercentage,omitempty"`
}

// Kong describes how the service is exposed through the API gateway.
type Kong struct {
	URIs           string `json:"uris,omitempty"`
	Auth           Auth   `json:"auth,omitempty"`
	StripURI       bool   `json:"stripUri,omitempty"`
	PreserveHost   bool   `json:"preserveHost,omitempty"`
	UpstreamURL    string `json:"upstreamUrl,omitempty"`
	CookieAuth     bool   `json:"cookieAuth,omitempty"`
	CookieAuthCSRF bool   `json:"cookieAuthCsrf,omitempty"`
}

type Auth string

const (
	AuthNone   Auth = "none"
	AuthOAuth2 Auth = "oauth2"
	AuthJWT    Auth = "jwt"
)

// Enabled reports whether the service is deployed in its region.
func (m *Manifest) Enabled() bool {
	return !m.Disabled && contains(m.Regions, m.Region)
}

// Base reports whether the manifest is free of resolved secrets.
func (m *Manifest) Base() bool {
	return len(m.Secrets) == 0 && !m.hasResolvedSecretFiles()
}

func (m *Manifest) hasResolvedSecretFiles() bool {
	for _, v := range m.SecretFiles {
		if v != SecretMarker {
			return true
		}
	}
	return false
}

// SecretKeys returns the sorted env keys whose values come from the secrets backend.
func (m *Manifest) SecretKeys() []string {
	keys := make([]string, 0)
	for k, v := range m.Env {
		if v == SecretMarker {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// PlainEnv returns the env without the secret markers.
func (m *Manifest) PlainEnv() map[string]string {
	env := make(map[string]string, len(m.Env))
	for k, v := range m.Env {
		if v != SecretMarker {
			env[k] = v
		}
	}
	return env
}

// Stub returns a copy of the manifest with every resolved secret replaced by SecretStub.
func (m *Manifest) Stub() *Manifest {
	c := m.DeepCopy()
	for k := range c.Secrets {
		c.Secrets[k] = SecretStub
	}
	for k, v := range c.SecretFiles {
		if v != SecretMarker {
			c.SecretFiles[k] = SecretStub
		}
	}
	return c
}

// DeepCopy returns a copy that shares no maps or slices with the receiver.
func (m *Manifest) DeepCopy() *Manifest {
	c := *m
	c.Regions = copySlice(m.Regions)
	c.Command = copySlice(m.Command)
	c.Hosts = copySlice(m.Hosts)
	c.Ports = append([]Port(nil), m.Ports...)
	c.Dependencies = append([]Dependency(nil), m.Dependencies...)
	c.Env = copyMap(m.Env)
	c.SecretFiles = copyMap(m.SecretFiles)
	c.ServiceAnnotations = copyMap(m.ServiceAnnotations)
	c.PodAnnotations = copyMap(m.PodAnnotations)
	c.Labels = copyMap(m.Labels)
	c.Secrets = copyMap(m.Secrets)
	if m.Metadata != nil {
		md := *m.Metadata
		md.Maintainers = copySlice(m.Metadata.Maintainers)
		c.Metadata = &md
	}
	if m.Configs != nil {
		cm := *m.Configs
		cm.Files = make([]ConfigMappedFile, len(m.Configs.Files))
		for i, f := range m.Configs.Files {
			cm.Files[i] = f
			if f.Value != nil {
				v := *f.Value
				cm.Files[i].Value = &v
			}
		}
		c.Configs = &cm
	}
	if m.Resources != nil {
		r := *m.Resources
		c.Resources = &r
	}
	if m.Health != nil {
		h := *m.Health
		if m.Health.Wait != nil {
			w := *m.Health.Wait
			h.Wait = &w
		}
		c.Health = &h
	}
	if m.AutoScaling != nil {
		as := *m.AutoScaling
		c.AutoScaling = &as
	}
	if m.Kong != nil {
		k := *m.Kong
		c.Kong = &k
	}
	if m.ReadinessProbe != nil {
		c.ReadinessProbe = m.ReadinessProbe.DeepCopy()
	}
	if m.LivenessProbe != nil {
		c.LivenessProbe = m.LivenessProbe.DeepCopy()
	}
	return &c
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
