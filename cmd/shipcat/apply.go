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

	"github.com/spf13/cobra"

	"github.com/shipcat/shipcat/pkg/deploy"
)

var applyCmd = &cobra.Command{
	Use:   "apply [service]",
	Short: "Apply generates the objects of a service and reconciles them on the cluster using server-side apply.",
	Long: `The apply command records the manifest in the ShipcatManifest of the service,
applies the generated objects, prunes the objects removed since the last apply
and waits for the rollout. The outcome of each step is stored in the ShipcatManifest status.`,
	Example: `  # Deploy a service and wait for the rollout
  shipcat apply fake-ask -r dev-uk

  # Deploy without waiting and record why
  shipcat apply fake-ask -r dev-uk --wait=false --reason "hotfix"
`,
	Args: cobra.ExactArgs(1),
	RunE: runApplyCmd,
}

type applyFlags struct {
	force  bool
	wait   bool
	prune  bool
	reason string
}

var applyArgs applyFlags

func init() {
	applyCmd.Flags().BoolVar(&applyArgs.force, "force", false, "Recreate objects that contain immutable fields changes.")
	applyCmd.Flags().BoolVar(&applyArgs.wait, "wait", true, "Wait for the applied Kubernetes objects to become ready.")
	applyCmd.Flags().BoolVar(&applyArgs.prune, "prune", true, "Delete the objects removed from the service since the last apply.")
	applyCmd.Flags().StringVar(&applyArgs.reason, "reason", deploy.DefaultApplyReason, "The reason recorded in the ShipcatManifest status.")

	rootCmd.AddCommand(applyCmd)
}

func runApplyCmd(cmd *cobra.Command, args []string) error {
	conf, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}

	mf, err := loadManifest(conf, region, args[0])
	if err != nil {
		return err
	}
	if !mf.Enabled() {
		return fmt.Errorf("%s is not enabled in region %s", mf.Name, region.Name)
	}

	resolver, err := newResolver(region)
	if err != nil {
		return err
	}

	deployer, err := newDeployer(conf)
	if err != nil {
		return err
	}

	opts := deploy.DefaultApplyOptions()
	opts.Force = applyArgs.force
	opts.Wait = applyArgs.wait
	opts.Prune = applyArgs.prune
	opts.Reason = applyArgs.reason
	opts.WaitTimeout = rootArgs.timeout

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	printed := false
	printChanges := func(result *deploy.ApplyResult) {
		printed = true
		for _, change := range result.Applied.Entries {
			logger.Println(change.String())
		}
		for _, change := range result.Pruned.Entries {
			logger.Println(change.String())
		}
	}
	opts.OnApplied = func(result *deploy.ApplyResult) {
		printChanges(result)
		if applyArgs.wait {
			logger.Println("waiting for resources to become ready...")
		}
	}

	logger.Println(fmt.Sprintf("applying %s to %s...", mf.Name, region.Name))
	result, err := deployer.Apply(ctx, rootArgs.root, mf, resolver, opts)
	if result != nil && !printed {
		printChanges(result)
	}
	if err != nil {
		return err
	}

	logger.Println(fmt.Sprintf("%s %s applied", mf.Name, result.Version))
	return nil
}
