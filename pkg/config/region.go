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
	"fmt"
)

// Region is a deployment target: a namespace in a cluster with its own
// secrets folder and gateway configuration.
type Region struct {
	Name string `json:"name"`

	// Environment is the environment name, e.g. dev, qa, prod.
	Environment string `json:"environment"`

	// Namespace where the services of this region are deployed.
	Namespace string `json:"namespace"`

	// Cluster is the name of the owning cluster.
	Cluster string `json:"cluster"`

	VersioningScheme VersioningScheme `json:"versioningScheme,omitempty"`

	Vault VaultConfig `json:"vault,omitempty"`

	Secrets SecretsConfig `json:"secrets,omitempty"`

	Kong KongConfig `json:"kong,omitempty"`

	// Env is merged underneath the env of every service in this region.
	Env map[string]string `json:"env,omitempty"`

	Defaults ManifestDefaults `json:"defaults,omitempty"`
}

// Cluster holds the connection details of a Kubernetes cluster.
type Cluster struct {
	Name string `json:"name,omitempty"`

	// API is the URL of the Kubernetes API server.
	API string `json:"api,omitempty"`

	// Teleport is the teleport proxy host used to login.
	Teleport string `json:"teleport,omitempty"`

	// ClusterName overrides the kube cluster and user names created by teleport.
	ClusterName string `json:"clustername,omitempty"`

	Regions []string `json:"regions,omitempty"`
}

// VaultConfig points to the Vault server holding the region secrets.
type VaultConfig struct {
	URL string `json:"url,omitempty"`

	// Folder is the path prefix under the secret mount.
	Folder string `json:"folder,omitempty"`
}

// VersioningScheme restricts the versions services can be deployed with.
type VersioningScheme string

const (
	Semver         VersioningScheme = "semver"
	GitShaOrSemver VersioningScheme = "gitShaOrSemver"
)

func (v VersioningScheme) Verify() error {
	switch v {
	case "", Semver, GitShaOrSemver:
		return nil
	default:
		return fmt.Errorf("unknown versioning scheme %q", v)
	}
}

// SecretsBackend selects where secrets are read from.
type SecretsBackend string

const (
	VaultBackend SecretsBackend = "vault"
	AgeBackend   SecretsBackend = "age"
	NoBackend    SecretsBackend = "none"
)

// SecretsConfig selects the secrets backend of a region.
type SecretsConfig struct {
	// Backend defaults to vault.
	Backend SecretsBackend `json:"backend,omitempty"`

	// File is the age encrypted secrets file used by the age backend.
	File string `json:"file,omitempty"`
}

func (s SecretsConfig) Verify() error {
	switch s.Backend {
	case "", VaultBackend, NoBackend:
		return nil
	case AgeBackend:
		if s.File == "" {
			return fmt.Errorf("the age secrets backend requires a file")
		}
		return nil
	default:
		return fmt.Errorf("unknown secrets backend %q", s.Backend)
	}
}

// GetBackend returns the configured backend or vault.
func (s SecretsConfig) GetBackend() SecretsBackend {
	if s.Backend == "" {
		return VaultBackend
	}
	return s.Backend
}

// KongConfig holds the API gateway settings of a region.
type KongConfig struct {
	// ConfigURL is the admin endpoint the generated config is synced to.
	ConfigURL string `json:"configUrl,omitempty"`

	// Host is the admin host written in the generated config.
	Host string `json:"host,omitempty"`

	// HostSuffix is appended to the service name for publicly accessible services.
	HostSuffix string `json:"hostSuffix,omitempty"`

	CorrelationIDHeader string `json:"correlationIdHeader,omitempty"`

	TCPLog *KongTCPLog `json:"tcpLog,omitempty"`

	Consumers map[string]KongOAuthConsumer `json:"consumers,omitempty"`

	JWTConsumers map[string]KongJWTConsumer `json:"jwtConsumers,omitempty"`

	JWTValidator KongJWTValidator `json:"jwtValidator,omitempty"`
}

type KongTCPLog struct {
	Host string `json:"host"`
	Port int32  `json:"port"`
}

type KongOAuthConsumer struct {
	OAuthClientID     string `json:"oauthClientId"`
	OAuthClientSecret string `json:"oauthClientSecret"`
	Username          string `json:"username,omitempty"`
}

type KongJWTConsumer struct {
	Kid       string `json:"kid"`
	PublicKey string `json:"publicKey"`
}

type KongJWTValidator struct {
	AllowedAudiences []string `json:"allowedAudiences,omitempty"`
	ExpectedScope    string   `json:"expectedScope,omitempty"`
}

const DefaultCorrelationIDHeader = "babylon-request-id"

// GetCorrelationIDHeader returns the configured header or the default.
func (k KongConfig) GetCorrelationIDHeader() string {
	if k.CorrelationIDHeader == "" {
		return DefaultCorrelationIDHeader
	}
	return k.CorrelationIDHeader
}
