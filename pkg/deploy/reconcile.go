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
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/shipcat/shipcat/pkg/config"
	"github.com/shipcat/shipcat/pkg/crd"
	"github.com/shipcat/shipcat/pkg/manifest"
)

const DefaultNumJobs = 8

// ReconcileResult lists what happened to the ShipcatManifests of a region.
type ReconcileResult struct {
	Applied []string
	Skipped []string
	Deleted []string
}

type reconcileState struct {
	mu     sync.Mutex
	result ReconcileResult
	errs   []error
}

func (s *reconcileState) add(list *[]string, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*list = append(*list, name)
}

func (s *reconcileState) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Reconcile applies the ShipcatManifest of every service enabled in the region
// and deletes the ShipcatManifests of the services that are no longer enabled.
// Services without a version that were never deployed are skipped.
// At most numJobs services are processed at a time, failures do not stop the
// other services and are returned together.
func (d *Deployer) Reconcile(ctx context.Context, root string, conf *config.Config, region *config.Region, numJobs int) (*ReconcileResult, error) {
	if numJobs <= 0 {
		numJobs = DefaultNumJobs
	}

	services, err := manifest.ForRegion(root, region)
	if err != nil {
		return nil, err
	}

	state := &reconcileState{}
	sem := semaphore.NewWeighted(int64(numJobs))
	group, groupCtx := errgroup.WithContext(ctx)

	for _, svc := range services {
		svc := svc
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return fmt.Errorf("acquire semaphore: %w", err)
			}
			defer sem.Release(1)

			applied, err := d.reconcileService(groupCtx, root, svc, conf, region)
			switch {
			case err != nil:
				state.fail(fmt.Errorf("%s: %w", svc, err))
			case applied:
				state.add(&state.result.Applied, svc)
			default:
				state.add(&state.result.Skipped, svc)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	deleted, err := d.pruneManifests(ctx, region.Namespace, services)
	if err != nil {
		state.fail(err)
	}
	state.result.Deleted = deleted

	sort.Strings(state.result.Applied)
	sort.Strings(state.result.Skipped)
	return &state.result, utilerrors.NewAggregate(state.errs)
}

func (d *Deployer) reconcileService(ctx context.Context, root, svc string, conf *config.Config, region *config.Region) (bool, error) {
	mf, err := manifest.Load(root, svc, conf, region)
	if err != nil {
		return false, err
	}
	if err := mf.Verify(conf, region); err != nil {
		return false, err
	}

	if mf.Version == "" {
		mm, err := d.CRD(mf.Name, mf.Namespace).GetMinimal(ctx)
		if err != nil {
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		if mm.Version == "" {
			return false, nil
		}
		mf.Version = mm.Version
	}

	if err := d.CRD(mf.Name, mf.Namespace).Apply(ctx, mf); err != nil {
		return false, err
	}
	return true, nil
}

// pruneManifests deletes the ShipcatManifests in the namespace that do not belong to an enabled service.
func (d *Deployer) pruneManifests(ctx context.Context, namespace string, enabled []string) ([]string, error) {
	keep := make(map[string]bool, len(enabled))
	for _, svc := range enabled {
		keep[svc] = true
	}

	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(crd.GroupVersionKind.GroupVersion().WithKind(crd.ListKind))
	if err := d.manager.Client().List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, fmt.Errorf("listing %s failed, error: %w", crd.Plural, err)
	}

	var deleted []string
	var errs []error
	for _, item := range list.Items {
		name := item.GetName()
		if keep[name] {
			continue
		}
		if err := d.CRD(name, namespace).Delete(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, name)
	}
	sort.Strings(deleted)
	return deleted, utilerrors.NewAggregate(errs)
}
