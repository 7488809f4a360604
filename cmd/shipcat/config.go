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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/shipcat/shipcat/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config manages the shipcat.conf of the manifests repository.",
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View prints shipcat.conf with the default values filled in.",
	RunE:  runConfigViewCmd,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Init writes a shipcat.conf with default values at the root of the manifests repository.",
	RunE:  runConfigInitCmd,
}

func init() {
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigViewCmd(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	rootCmd.Println(string(data))
	return nil
}

func runConfigInitCmd(cmd *cobra.Command, args []string) error {
	cfgPath := rootArgs.config
	if cfgPath == "" {
		cfgPath = filepath.Join(rootArgs.root, config.DefaultConfigFile)
	}

	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := config.NewConfig().Write(cfgPath); err != nil {
		return err
	}

	logger.Println("config written to", cfgPath)
	return nil
}
