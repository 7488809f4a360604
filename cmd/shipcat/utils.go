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
	"fmt"
	"path/filepath"

	"github.com/fluxcd/pkg/ssa"

	"github.com/shipcat/shipcat/pkg/auth"
	"github.com/shipcat/shipcat/pkg/config"
	"github.com/shipcat/shipcat/pkg/manifest"
	"github.com/shipcat/shipcat/pkg/secrets"
)

// loadConfig reads shipcat.conf from the manifests repository and sets
// the apply order of the resource manager.
func loadConfig() (*config.Config, error) {
	cfgPath := rootArgs.config
	if cfgPath == "" {
		cfgPath = filepath.Join(rootArgs.root, config.DefaultConfigFile)
	}

	conf, err := config.Read(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading the config failed, error: %w", err)
	}

	ssa.ReconcileOrder = ssa.KindOrder{
		First: conf.ApplyOrder.First,
		Last:  conf.ApplyOrder.Last,
	}
	return conf, nil
}

// loadRegion returns the region given with --region or the one named
// after the current kube context.
func loadRegion(conf *config.Config) (*config.Region, error) {
	name := rootArgs.region
	if name == "" {
		var kubeconfig string
		if kubeconfigArgs.KubeConfig != nil {
			kubeconfig = *kubeconfigArgs.KubeConfig
		}
		current, err := auth.CurrentContext(kubeconfig)
		if err != nil {
			return nil, err
		}
		name = current
	}
	return conf.GetRegion(name)
}

func loadConfigAndRegion() (*config.Config, *config.Region, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	region, err := loadRegion(conf)
	if err != nil {
		return nil, nil, err
	}
	return conf, region, nil
}

// loadManifest builds and verifies the manifest of a service, secrets are left unresolved.
func loadManifest(conf *config.Config, region *config.Region, svc string) (*manifest.Manifest, error) {
	mf, err := manifest.Load(rootArgs.root, svc, conf, region)
	if err != nil {
		return nil, err
	}
	if err := mf.Verify(conf, region); err != nil {
		return nil, fmt.Errorf("%s: %w", svc, err)
	}
	return mf, nil
}

// newResolver returns the secrets resolver of the region, placeholders
// are used instead when --mock-secrets is set.
func newResolver(region *config.Region) (secrets.Resolver, error) {
	if rootArgs.mockSecrets {
		return secrets.MockResolver{}, nil
	}

	r := *region
	if r.Secrets.File != "" && !filepath.IsAbs(r.Secrets.File) {
		r.Secrets.File = filepath.Join(rootArgs.root, r.Secrets.File)
	}
	return secrets.NewResolver(&r)
}
