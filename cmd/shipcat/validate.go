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
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/shipcat/shipcat/pkg/config"
	"github.com/shipcat/shipcat/pkg/deploy"
	"github.com/shipcat/shipcat/pkg/registry"
	"github.com/shipcat/shipcat/pkg/secrets"
)

var validateCmd = &cobra.Command{
	Use:   "validate [service]...",
	Short: "Validate checks the manifests of the given services against the rules of the region.",
	Example: `  # Validate the manifests, secrets and images of two services
  shipcat validate fake-ask fake-storage -r dev-uk --secrets --check-image
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidateCmd,
}

type validateFlags struct {
	secrets    bool
	checkImage bool
}

var validateArgs validateFlags

// renderVersion stands in for the version of unpinned services, those get
// their version from the cluster at apply time.
const renderVersion = "0.0.0"

func init() {
	validateCmd.Flags().BoolVar(&validateArgs.secrets, "secrets", false,
		"Check that the secrets exist and that the config templates render.")
	validateCmd.Flags().BoolVar(&validateArgs.checkImage, "check-image", false,
		"Check that the image tag of the service exists in the registry.")

	rootCmd.AddCommand(validateCmd)
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	conf, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}

	var resolver secrets.Resolver
	if validateArgs.secrets {
		resolver, err = newResolver(region)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	var errs []error
	for _, svc := range args {
		if err := validateService(ctx, conf, region, resolver, svc); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Println("✔", svc, "is valid")
	}
	return utilerrors.NewAggregate(errs)
}

func validateService(ctx context.Context, conf *config.Config, region *config.Region, resolver secrets.Resolver, svc string) error {
	mf, err := loadManifest(conf, region, svc)
	if err != nil {
		return err
	}

	if resolver != nil {
		rmf := mf
		if rmf.Version == "" {
			rmf = mf.DeepCopy()
			rmf.Version = renderVersion
		}
		if _, err := deploy.Render(ctx, rootArgs.root, rmf, resolver); err != nil {
			return fmt.Errorf("%s: %w", svc, err)
		}
	}

	if validateArgs.checkImage {
		if mf.Version == "" {
			return fmt.Errorf("%s: no version to check the image of", svc)
		}
		if _, err := registry.ImageDigest(ctx, mf.Image, mf.Version); err != nil {
			if errors.Is(err, registry.ErrTagNotFound) {
				if tags, terr := registry.SemverTags(ctx, mf.Image); terr == nil && len(tags) > 0 {
					return fmt.Errorf("%s: %w, the latest released version is %s", svc, err, tags[0])
				}
			}
			return fmt.Errorf("%s: %w", svc, err)
		}
	}

	return nil
}
