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
	"fmt"
	"os"
	"path"

	vault "github.com/hashicorp/vault/api"

	"github.com/shipcat/shipcat/pkg/config"
)

const (
	// VaultMount is the KV version 1 mount holding the service secrets.
	VaultMount = "secret"

	// VaultField is the field of a KV entry holding the secret value.
	VaultField = "value"
)

// VaultResolver reads secrets from a KV version 1 mount at
// secret/<folder>/<service>/<name>.
type VaultResolver struct {
	client *vault.Client
	folder string
}

// NewVaultResolver creates a client for the given region vault.
// The address defaults to VAULT_ADDR, the token is read from VAULT_TOKEN.
func NewVaultResolver(vc config.VaultConfig) (*VaultResolver, error) {
	cfg := vault.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("vault config failed, error: %w", cfg.Error)
	}
	if vc.URL != "" {
		cfg.Address = vc.URL
	}

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client init failed, error: %w", err)
	}

	if token := os.Getenv(vault.EnvVaultToken); token != "" {
		client.SetToken(token)
	}

	return &VaultResolver{client: client, folder: vc.Folder}, nil
}

func (v *VaultResolver) path(key string) string {
	return path.Join(VaultMount, v.folder, key)
}

func (v *VaultResolver) Get(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.path(key))
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", ErrNotFound
	}

	value, ok := secret.Data[VaultField]
	if !ok {
		return "", fmt.Errorf("%s has no %q field", v.path(key), VaultField)
	}

	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%s field %q is not a string", v.path(key), VaultField)
	}
	return s, nil
}

// Put writes a secret, it is used to seed development vaults.
func (v *VaultResolver) Put(ctx context.Context, key, value string) error {
	_, err := v.client.Logical().WriteWithContext(ctx, v.path(key), map[string]interface{}{
		VaultField: value,
	})
	return err
}
