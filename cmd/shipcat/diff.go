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

	"github.com/shipcat/shipcat/pkg/deploy"
)

var diffCmd = &cobra.Command{
	Use:   "diff [service]",
	Short: "Diff compares the generated objects of a service with the objects on the cluster.",
	Long: `The diff command performs a server-side apply dry-run of the objects of a service
and prints the objects that would be created, the ones that drifted from their desired state
and the ones that would be pruned. Secret values are masked in the output.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiffCmd,
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func runDiffCmd(cmd *cobra.Command, args []string) error {
	conf, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}

	mf, err := loadManifest(conf, region, args[0])
	if err != nil {
		return err
	}

	resolver, err := newResolver(region)
	if err != nil {
		return err
	}

	deployer, err := newDeployer(conf)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	entries, err := deployer.Diff(ctx, rootArgs.root, mf, resolver)
	for _, entry := range entries {
		rootCmd.Println(`►`, entry.Subject, entry.Action)
		if entry.Action == deploy.DiffDrifted && entry.Diff != "" {
			rootCmd.Println(entry.Diff)
		}
	}
	return err
}
