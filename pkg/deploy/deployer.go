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

package deploy

import (
	"context"
	"fmt"

	"github.com/fluxcd/pkg/ssa"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/shipcat/shipcat/pkg/crd"
	"github.com/shipcat/shipcat/pkg/generate"
	"github.com/shipcat/shipcat/pkg/inventory"
	"github.com/shipcat/shipcat/pkg/manifest"
	"github.com/shipcat/shipcat/pkg/secrets"
	"github.com/shipcat/shipcat/pkg/template"
)

// Deployer applies, diffs and deletes services on a cluster.
type Deployer struct {
	manager *ssa.ResourceManager
	owner   ssa.Owner
	storage *inventory.Storage
}

func NewDeployer(manager *ssa.ResourceManager, owner ssa.Owner) *Deployer {
	return &Deployer{
		manager: manager,
		owner:   owner,
		storage: &inventory.Storage{
			Manager: manager,
			Owner:   owner,
		},
	}
}

// Storage returns the inventory storage of the deployer.
func (d *Deployer) Storage() *inventory.Storage {
	return d.storage
}

// CRD returns the client of the ShipcatManifest of a service.
func (d *Deployer) CRD(name, namespace string) *crd.Client {
	return crd.NewClient(d.manager.Client(), d.owner, name, namespace)
}

// ResolveVersion fills in the version from the ShipcatManifest on the cluster
// when the manifest does not pin one.
func (d *Deployer) ResolveVersion(ctx context.Context, mf *manifest.Manifest) error {
	if mf.Version != "" {
		return nil
	}
	mm, err := d.CRD(mf.Name, mf.Namespace).GetMinimal(ctx)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("%s has no version in its manifest and is not deployed in %s, a version must be specified", mf.Name, mf.Region)
		}
		return fmt.Errorf("reading the deployed version of %s failed, error: %w", mf.Name, err)
	}
	if mm.Version == "" {
		return fmt.Errorf("%s has no version in its manifest nor on the cluster", mf.Name)
	}
	mf.Version = mm.Version
	return nil
}

// Render resolves the secrets and config templates of a copy of the manifest
// and returns the patched Kubernetes objects of the service.
func Render(ctx context.Context, root string, base *manifest.Manifest, resolver secrets.Resolver) ([]*unstructured.Unstructured, error) {
	mf := base.DeepCopy()

	if err := secrets.Resolve(ctx, resolver, mf); err != nil {
		return nil, err
	}
	if err := template.RenderConfigs(mf); err != nil {
		return nil, err
	}

	objects, err := generate.Objects(mf)
	if err != nil {
		return nil, err
	}

	objects, err = generate.Patch(root, mf.Name, objects)
	if err != nil {
		return nil, err
	}

	generate.FixReplicasConflict(objects)
	return objects, nil
}
