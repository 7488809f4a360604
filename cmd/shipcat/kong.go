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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/yaml"

	"github.com/shipcat/shipcat/pkg/kong"
	"github.com/shipcat/shipcat/pkg/manifest"
)

var kongCmd = &cobra.Command{
	Use:   "kong",
	Short: "Kong generates the API gateway config of a region.",
}

var kongConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Config prints the consumers and APIs of the region in the format consumed by the kong syncer.",
	RunE:  runKongConfigCmd,
}

type kongFlags struct {
	output string
}

var kongArgs kongFlags

func init() {
	kongConfigCmd.Flags().StringVarP(&kongArgs.output, "output", "o", "yaml",
		"Write the config to stdout in YAML or JSON format.")

	kongCmd.AddCommand(kongConfigCmd)
	rootCmd.AddCommand(kongCmd)
}

func runKongConfigCmd(cmd *cobra.Command, args []string) error {
	conf, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}

	services, err := manifest.ForRegion(rootArgs.root, region)
	if err != nil {
		return err
	}

	var manifests []*manifest.Manifest
	var errs []error
	for _, svc := range services {
		mf, err := loadManifest(conf, region, svc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		manifests = append(manifests, mf)
	}
	if len(errs) > 0 {
		return utilerrors.NewAggregate(errs)
	}

	kfg, err := kong.Generate(conf, region, manifests)
	if err != nil {
		return err
	}

	var data []byte
	switch kongArgs.output {
	case "yaml":
		data, err = yaml.Marshal(kfg)
	case "json":
		data, err = json.MarshalIndent(kfg, "", "  ")
	default:
		return fmt.Errorf("unsupported output, can be yaml or json")
	}
	if err != nil {
		return err
	}

	rootCmd.Println(string(data))
	return nil
}
