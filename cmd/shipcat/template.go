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
	"sort"

	"github.com/fluxcd/pkg/ssa"
	"github.com/spf13/cobra"

	"github.com/shipcat/shipcat/pkg/deploy"
)

var templateCmd = &cobra.Command{
	Use:   "template [service]",
	Short: "Template prints the Kubernetes objects generated for a service.",
	Example: `  # Print the objects of a service in the current region
  shipcat template fake-ask

  # Print the objects as JSON without reading the secrets backend
  shipcat template fake-ask -r dev-uk --mock-secrets -o json
`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplateCmd,
}

type templateFlags struct {
	output string
}

var templateArgs templateFlags

func init() {
	templateCmd.Flags().StringVarP(&templateArgs.output, "output", "o", "yaml",
		"Write the objects to stdout in YAML or JSON format.")

	rootCmd.AddCommand(templateCmd)
}

func runTemplateCmd(cmd *cobra.Command, args []string) error {
	svc := args[0]

	conf, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}

	mf, err := loadManifest(conf, region, svc)
	if err != nil {
		return err
	}

	if mf.Version == "" {
		return fmt.Errorf("%s has no version in region %s, a version must be specified", svc, region.Name)
	}

	resolver, err := newResolver(region)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	objects, err := deploy.Render(ctx, rootArgs.root, mf, resolver)
	if err != nil {
		return err
	}

	sort.Sort(ssa.SortableUnstructureds(objects))

	switch templateArgs.output {
	case "yaml":
		yml, err := ssa.ObjectsToYAML(objects)
		if err != nil {
			return err
		}
		rootCmd.Println(yml)
	case "json":
		json, err := ssa.ObjectsToJSON(objects)
		if err != nil {
			return err
		}
		rootCmd.Println(json)
	default:
		return fmt.Errorf("unsupported output, can be yaml or json")
	}

	return nil
}
