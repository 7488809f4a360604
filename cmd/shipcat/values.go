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

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/shipcat/shipcat/pkg/secrets"
)

var valuesCmd = &cobra.Command{
	Use:   "values [service]",
	Short: "Values prints the completed manifest of a service for a region.",
	Args:  cobra.ExactArgs(1),
	RunE:  runValuesCmd,
}

type valuesFlags struct {
	secrets bool
	reveal  bool
}

var valuesArgs valuesFlags

func init() {
	valuesCmd.Flags().BoolVarP(&valuesArgs.secrets, "secrets", "s", false,
		"Resolve the secrets of the service from the secrets backend.")
	valuesCmd.Flags().BoolVar(&valuesArgs.reveal, "reveal", false,
		"Print the resolved secret values instead of a placeholder.")

	rootCmd.AddCommand(valuesCmd)
}

func runValuesCmd(cmd *cobra.Command, args []string) error {
	conf, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}

	mf, err := loadManifest(conf, region, args[0])
	if err != nil {
		return err
	}

	if valuesArgs.secrets {
		resolver, err := newResolver(region)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
		defer cancel()

		if err := secrets.Resolve(ctx, resolver, mf); err != nil {
			return err
		}
		if !valuesArgs.reveal {
			mf = mf.Stub()
		}
	}

	data, err := yaml.Marshal(mf)
	if err != nil {
		return err
	}
	cmd.OutOrStdout().Write(data)
	return nil
}
