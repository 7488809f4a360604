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
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/shipcat/shipcat/pkg/config"
)

var gitShaRegexp = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Verify checks the manifest against the rules of its region.
// It must run before secrets are resolved. All violations are returned in a single aggregated error.
func (m *Manifest) Verify(conf *config.Config, region *config.Region) error {
	var errs []error

	for _, msg := range validation.IsDNS1123Label(m.Name) {
		errs = append(errs, fmt.Errorf("name %q: %s", m.Name, msg))
	}

	if len(m.Regions) == 0 {
		errs = append(errs, fmt.Errorf("regions must not be empty"))
	}
	for _, r := range m.Regions {
		if _, err := conf.GetRegion(r); err != nil {
			errs = append(errs, err)
		}
	}
	if !contains(m.Regions, region.Name) {
		errs = append(errs, fmt.Errorf("unsupported region %s, the service is only deployed to %s",
			region.Name, strings.Join(m.Regions, ", ")))
	}

	if m.Version != "" {
		if err := VerifyVersion(region.VersioningScheme, m.Version); err != nil {
			errs = append(errs, err)
		}
	}

	if m.Metadata != nil && m.Metadata.Repo == "" {
		errs = append(errs, fmt.Errorf("metadata.repo is required"))
	}

	ports := make(map[int32]bool)
	portNames := make(map[string]bool)
	if m.HTTPPort != nil {
		ports[*m.HTTPPort] = true
		portNames["http"] = true
	}
	for _, p := range m.Ports {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("port %d must have a name", p.Port))
		} else if portNames[p.Name] {
			errs = append(errs, fmt.Errorf("port name %s is defined more than once", p.Name))
		}
		if ports[p.Port] {
			errs = append(errs, fmt.Errorf("port %d is defined more than once", p.Port))
		}
		ports[p.Port] = true
		portNames[p.Name] = true
	}

	if m.Health != nil && m.HTTPPort == nil {
		errs = append(errs, fmt.Errorf("health checks require httpPort"))
	}

	if as := m.AutoScaling; as != nil {
		if as.MinReplicas < 1 {
			errs = append(errs, fmt.Errorf("autoScaling.minReplicas must be at least 1"))
		}
		if as.MinReplicas > as.MaxReplicas {
			errs = append(errs, fmt.Errorf("autoScaling.minReplicas %d is greater than maxReplicas %d", as.MinReplicas, as.MaxReplicas))
		}
	}

	for k, v := range m.SecretFiles {
		if v != SecretMarker {
			errs = append(errs, fmt.Errorf("secretFiles.%s must be %s", k, SecretMarker))
		}
	}

	for k := range m.Env {
		if strings.ToUpper(k) != k {
			errs = append(errs, fmt.Errorf("env %s must be uppercase", k))
		}
	}

	if m.Configs != nil {
		if m.Configs.MountPath == "" {
			errs = append(errs, fmt.Errorf("configs.mount is required"))
		}
		for _, f := range m.Configs.Files {
			if f.Dest == "" {
				errs = append(errs, fmt.Errorf("configs file %s has no dest", f.Name))
			}
		}
	}

	if k := m.Kong; k != nil {
		switch k.Auth {
		case "", AuthNone, AuthOAuth2, AuthJWT:
		default:
			errs = append(errs, fmt.Errorf("kong.auth %q must be one of none, oauth2, jwt", k.Auth))
		}
		if k.URIs == "" && len(m.Hosts) == 0 && !m.PubliclyAccessible {
			errs = append(errs, fmt.Errorf("kong requires uris or hosts"))
		}
	}

	return utilerrors.NewAggregate(errs)
}

// VerifyVersion checks the version against the versioning scheme of a region.
func VerifyVersion(scheme config.VersioningScheme, version string) error {
	_, semverErr := semver.StrictNewVersion(version)
	switch scheme {
	case config.Semver:
		if semverErr != nil {
			return fmt.Errorf("version %q is not a valid semver", version)
		}
	case "", config.GitShaOrSemver:
		if semverErr != nil && !gitShaRegexp.MatchString(version) {
			return fmt.Errorf("version %q is neither a semver nor a git sha", version)
		}
	}
	return nil
}
