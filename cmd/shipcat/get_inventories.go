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
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Get prints the shipcat objects stored on the cluster.",
}

var getInventoriesCmd = &cobra.Command{
	Use:   "inventories",
	Short: "Get inventories prints the inventories of the services deployed in the region namespace.",
	RunE:  runGetInventoriesCmd,
}

func init() {
	getCmd.AddCommand(getInventoriesCmd)
	rootCmd.AddCommand(getCmd)
}

func runGetInventoriesCmd(cmd *cobra.Command, args []string) error {
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

	inventories, err := deployer.Storage().ListInventories(ctx, region.Namespace)
	if err != nil {
		return fmt.Errorf("inventory query failed, error: %w", err)
	}

	var rows [][]string
	for _, i := range inventories {
		row := []string{i.Name, fmt.Sprintf("%v", len(i.Entries)), i.Version, i.Region, i.LastAppliedTime}
		rows = append(rows, row)
	}

	printTable(cmd.OutOrStdout(), []string{"name", "entries", "version", "region", "last applied"}, rows)

	return nil
}

func printTable(writer io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}
