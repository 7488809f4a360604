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

	"github.com/fluxcd/pkg/ssa"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	apiruntime "k8s.io/apimachinery/pkg/runtime"

	"github.com/shipcat/shipcat/pkg/crd"
	"github.com/shipcat/shipcat/pkg/deploy"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster manages the cluster wide shipcat objects.",
}

var clusterCrdCmd = &cobra.Command{
	Use:   "crd",
	Short: "Crd manages the ShipcatManifest custom resources.",
}

var clusterCrdInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install applies the ShipcatManifest CustomResourceDefinition and waits for it to be established.",
	RunE:  runClusterCrdInstallCmd,
}

var clusterCrdReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile applies the ShipcatManifest of every service enabled in the region and deletes the ones of removed services.",
	RunE:  runClusterCrdReconcileCmd,
}

type clusterCrdReconcileFlags struct {
	numJobs int
}

var clusterCrdReconcileArgs clusterCrdReconcileFlags

func init() {
	clusterCrdReconcileCmd.Flags().IntVar(&clusterCrdReconcileArgs.numJobs, "num-jobs", deploy.DefaultNumJobs,
		"The number of services reconciled in parallel.")

	clusterCrdCmd.AddCommand(clusterCrdInstallCmd)
	clusterCrdCmd.AddCommand(clusterCrdReconcileCmd)
	clusterCmd.AddCommand(clusterCrdCmd)
	rootCmd.AddCommand(clusterCmd)
}

func runClusterCrdInstallCmd(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	resMgr, err := newResourceManager(conf)
	if err != nil {
		return err
	}

	content, err := apiruntime.DefaultUnstructuredConverter.ToUnstructured(crd.Definition())
	if err != nil {
		return err
	}
	unstructured.RemoveNestedField(content, "status")
	object := &unstructured.Unstructured{Object: content}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	change, err := resMgr.Apply(ctx, object, ssa.DefaultApplyOptions())
	if err != nil {
		return fmt.Errorf("installing %s failed, error: %w", crd.Name(), err)
	}
	logger.Println(change.String())

	waitOpts := ssa.DefaultWaitOptions()
	waitOpts.Timeout = rootArgs.timeout
	if err := resMgr.Wait([]*unstructured.Unstructured{object}, waitOpts); err != nil {
		return err
	}

	logger.Println("✔", crd.Name(), "established")
	return nil
}

func runClusterCrdReconcileCmd(cmd *cobra.Command, args []string) error {
	conf, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}

	deployer, err := newDeployer(conf)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	result, err := deployer.Reconcile(ctx, rootArgs.root, conf, region, clusterCrdReconcileArgs.numJobs)
	if result != nil {
		for _, svc := range result.Applied {
			logger.Println(`►`, crd.Kind+"/"+svc, "applied")
		}
		for _, svc := range result.Skipped {
			logger.Println(`►`, crd.Kind+"/"+svc, "skipped, no version to apply")
		}
		for _, svc := range result.Deleted {
			logger.Println(`►`, crd.Kind+"/"+svc, "deleted")
		}
	}
	return err
}
