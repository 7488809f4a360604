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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/shipcat/shipcat/pkg/config"
	"github.com/shipcat/shipcat/pkg/manifest"
)

// ErrNotFound is returned by resolvers when a key has no value.
var ErrNotFound = errors.New("secret not found")

// Resolver fetches secret values by key, keys are in the format <service>/<name>.
type Resolver interface {
	Get(ctx context.Context, key string) (string, error)
}

// Key returns the resolver key of a service secret.
func Key(svc, name string) string {
	return path.Join(svc, name)
}

// MissingSecretsError lists every key the resolver had no value for.
type MissingSecretsError struct {
	Keys []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("secrets not found: %s", strings.Join(e.Keys, ", "))
}

// Resolve fills in the env secrets and secret files of the manifest.
// Missing secrets are reported together in a MissingSecretsError.
func Resolve(ctx context.Context, r Resolver, mf *manifest.Manifest) error {
	var missing []string
	resolved := make(map[string]string)

	get := func(name string) (string, bool, error) {
		v, err := r.Get(ctx, Key(mf.Name, name))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				missing = append(missing, Key(mf.Name, name))
				return "", false, nil
			}
			return "", false, fmt.Errorf("reading secret %s failed, error: %w", Key(mf.Name, name), err)
		}
		return v, true, nil
	}

	for _, k := range mf.SecretKeys() {
		v, ok, err := get(k)
		if err != nil {
			return err
		}
		if ok {
			resolved[k] = v
		}
	}

	files := make(map[string]string, len(mf.SecretFiles))
	for _, k := range sortedKeys(mf.SecretFiles) {
		v, ok, err := get(k)
		if err != nil {
			return err
		}
		if ok {
			files[k] = v
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingSecretsError{Keys: missing}
	}

	mf.Secrets = resolved
	if len(files) > 0 {
		mf.SecretFiles = files
	}
	return nil
}

// NewResolver returns the resolver configured for the region.
func NewResolver(region *config.Region) (Resolver, error) {
	switch region.Secrets.GetBackend() {
	case config.VaultBackend:
		return NewVaultResolver(region.Vault)
	case config.AgeBackend:
		return NewAgeResolverFromEnv(region.Secrets.File)
	case config.NoBackend:
		return StaticResolver{}, nil
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", region.Secrets.Backend)
	}
}

// StaticResolver serves secrets from memory.
type StaticResolver map[string]string

func (s StaticResolver) Get(_ context.Context, key string) (string, error) {
	if v, ok := s[key]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

// MockResolver returns the key as value for every secret, it lets templates
// render without access to the secrets backend.
type MockResolver struct{}

func (MockResolver) Get(_ context.Context, key string) (string, error) {
	return strings.ToLower(strings.ReplaceAll(key, "/", "-")), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
