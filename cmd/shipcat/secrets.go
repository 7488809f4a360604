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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/shipcat/shipcat/pkg/config"
	"github.com/shipcat/shipcat/pkg/secrets"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Secrets manages the values stored in the secrets backend of a region.",
}

var secretsSealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal encrypts a YAML file of '<service>/<name>: value' pairs into the age secrets file of the region.",
	Example: `  # Encrypt the secrets of the region for the team keys
  shipcat secrets seal -r dev-uk --from secrets.yaml --recipients keys.txt
`,
	RunE: runSecretsSealCmd,
}

var secretsPutCmd = &cobra.Command{
	Use:   "put [service] [name] [value]",
	Short: "Put writes a secret of a service to the vault of the region.",
	Args:  cobra.ExactArgs(3),
	RunE:  runSecretsPutCmd,
}

type secretsSealFlags struct {
	from       string
	recipients string
	output     string
}

var secretsSealArgs secretsSealFlags

func init() {
	secretsSealCmd.Flags().StringVar(&secretsSealArgs.from, "from", "", "Path to the plain text YAML file.")
	secretsSealCmd.Flags().StringVar(&secretsSealArgs.recipients, "recipients", "", "Path to a file with one age public key per line.")
	secretsSealCmd.Flags().StringVar(&secretsSealArgs.output, "output", "",
		"Path of the encrypted file, defaults to the secrets file of the region.")

	secretsCmd.AddCommand(secretsSealCmd)
	secretsCmd.AddCommand(secretsPutCmd)
	rootCmd.AddCommand(secretsCmd)
}

func runSecretsSealCmd(cmd *cobra.Command, args []string) error {
	if secretsSealArgs.from == "" {
		return fmt.Errorf("--from is required")
	}
	if secretsSealArgs.recipients == "" {
		return fmt.Errorf("--recipients is required")
	}

	output := secretsSealArgs.output
	if output == "" {
		_, region, err := loadConfigAndRegion()
		if err != nil {
			return err
		}
		if region.Secrets.GetBackend() != config.AgeBackend {
			return fmt.Errorf("region %s does not use the age secrets backend, set --output", region.Name)
		}
		output = region.Secrets.File
		if !filepath.IsAbs(output) {
			output = filepath.Join(rootArgs.root, output)
		}
	}

	data, err := os.ReadFile(secretsSealArgs.from)
	if err != nil {
		return err
	}
	values := make(map[string]string)
	if err := yaml.UnmarshalStrict(data, &values); err != nil {
		return fmt.Errorf("%s: %w", secretsSealArgs.from, err)
	}

	recipients, err := secrets.ParseAgeRecipients(secretsSealArgs.recipients)
	if err != nil {
		return fmt.Errorf("parsing age recipients failed, error: %w", err)
	}

	sealed, err := secrets.Seal(values, recipients)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, sealed, 0644); err != nil {
		return err
	}

	logger.Println(fmt.Sprintf("%d secret(s) sealed to %s", len(values), output))
	return nil
}

func runSecretsPutCmd(cmd *cobra.Command, args []string) error {
	svc, name, value := args[0], args[1], args[2]

	_, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}
	if region.Secrets.GetBackend() != config.VaultBackend {
		return fmt.Errorf("region %s does not use the vault secrets backend", region.Name)
	}

	v, err := secrets.NewVaultResolver(region.Vault)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	if err := v.Put(ctx, secrets.Key(svc, name), value); err != nil {
		return err
	}

	logger.Println("✔", secrets.Key(svc, name), "written to vault")
	return nil
}
