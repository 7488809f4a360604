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
	"github.com/spf13/cobra"

	"github.com/shipcat/shipcat/pkg/manifest"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List prints the regions and services of the manifests repository.",
}

var listRegionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List the regions defined in shipcat.conf.",
	RunE:  runListRegionsCmd,
}

var listServicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List the services enabled in the region.",
	RunE:  runListServicesCmd,
}

func init() {
	listCmd.AddCommand(listRegionsCmd)
	listCmd.AddCommand(listServicesCmd)
	rootCmd.AddCommand(listCmd)
}

func runListRegionsCmd(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	var rows [][]string
	for _, r := range conf.Regions {
		rows = append(rows, []string{r.Name, r.Environment, r.Namespace, r.Cluster})
	}

	printTable(cmd.OutOrStdout(), []string{"name", "environment", "namespace", "cluster"}, rows)
	return nil
}

func runListServicesCmd(cmd *cobra.Command, args []string) error {
	_, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}

	services, err := manifest.ForRegion(rootArgs.root, region)
	if err != nil {
		return err
	}

	for _, svc := range services {
		rootCmd.Println(svc)
	}
	return nil
}
