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
	"os"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
)

var VERSION = "0.1.0-dev.0"

const PROJECT = "shipcat"

var rootCmd = &cobra.Command{
	Use:           PROJECT,
	Version:       VERSION,
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "A command line utility to generate, validate and deploy services described by shipcat manifests.",
	Long: `Shipcat deploys the services of a manifests repository to Kubernetes.

Inspect the services of a region:

- shipcat list services -r <region>
- shipcat values <service> -r <region> [--secrets]
- shipcat template <service> -r <region> [-o yaml|json]
- shipcat validate <service>... -r <region> [--check-image] [--secrets]

Deploy and inspect services:

- shipcat diff <service> -r <region>
- shipcat apply <service> -r <region> [--wait] [--prune] [--force] [--reason]
- shipcat status <service> -r <region>
- shipcat delete <service> -r <region>

Manage clusters:

- shipcat login -r <region> [--force]
- shipcat cluster crd install
- shipcat cluster crd reconcile -r <region> [--num-jobs]
- shipcat kong config -r <region>
`,
}

type rootFlags struct {
	timeout     time.Duration
	config      string
	region      string
	root        string
	mockSecrets bool
}

var (
	rootArgs = rootFlags{}
	logger   = stderrLogger{stderr: os.Stderr}
)

var kubeconfigArgs = genericclioptions.NewConfigFlags(false)

func init() {
	rootCmd.PersistentFlags().DurationVar(&rootArgs.timeout, "timeout", 5*time.Minute,
		"The length of time to wait before giving up on the current operation.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.root, "root", ".",
		"Path to the root of the manifests repository.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.config, "config", "",
		"Path to the shipcat config, defaults to shipcat.conf in the manifests repository.")
	rootCmd.PersistentFlags().StringVarP(&rootArgs.region, "region", "r", "",
		"The region to operate on, defaults to the current kube context.")
	rootCmd.PersistentFlags().BoolVar(&rootArgs.mockSecrets, "mock-secrets", false,
		"Replace secrets with placeholder values instead of reading them from the secrets backend.")

	kubeconfigArgs.Timeout = nil
	kubeconfigArgs.Namespace = nil
	kubeconfigArgs.AddFlags(rootCmd.PersistentFlags())

	rootCmd.DisableAutoGenTag = true
	rootCmd.SetOut(os.Stdout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Println(`✗`, err)
		os.Exit(1)
	}
}
