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

	"github.com/shipcat/shipcat/pkg/auth"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Login authenticates against the cluster of the region and makes its kube context current.",
	Example: `  # Login to a teleport protected region
  shipcat login -r prod-uk

  # Drop the cached teleport session and login again
  shipcat login -r prod-uk --force
`,
	RunE: runLoginCmd,
}

type loginFlags struct {
	force bool
}

var loginArgs loginFlags

func init() {
	loginCmd.Flags().BoolVar(&loginArgs.force, "force", false, "Remove the cached teleport session before logging in.")

	rootCmd.AddCommand(loginCmd)
}

func runLoginCmd(cmd *cobra.Command, args []string) error {
	conf, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}

	a, err := auth.NewAuthenticator()
	if err != nil {
		return err
	}
	if kubeconfigArgs.KubeConfig != nil && *kubeconfigArgs.KubeConfig != "" {
		a.Kubeconfig = *kubeconfigArgs.KubeConfig
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	if err := a.Login(ctx, conf, region, loginArgs.force); err != nil {
		return err
	}

	logger.Println("✔ logged in to", region.Name)
	return nil
}
