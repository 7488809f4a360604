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

var deleteCmd = &cobra.Command{
	Use:   "delete [service]",
	Short: "Delete removes the objects, the inventory and the ShipcatManifest of a service from the cluster.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteCmd,
}

type deleteFlags struct {
	wait bool
}

var deleteArgs deleteFlags

func init() {
	deleteCmd.Flags().BoolVar(&deleteArgs.wait, "wait", true, "Wait for the deleted Kubernetes objects to be terminated.")

	rootCmd.AddCommand(deleteCmd)
}

func runDeleteCmd(cmd *cobra.Command, args []string) error {
	svc := args[0]

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

	changeSet, err := deployer.Delete(ctx, svc, region.Namespace, deploy.DeleteOptions{
		Wait:        deleteArgs.wait,
		WaitTimeout: rootArgs.timeout,
	})
	if changeSet != nil {
		for _, change := range changeSet.Entries {
			logger.Println(change.String())
		}
	}
	if err != nil {
		return err
	}

	logger.Println(fmt.Sprintf("%s deleted from %s", svc, region.Name))
	return nil
}
