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
	"time"

	"github.com/fluxcd/pkg/ssa"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/shipcat/shipcat/pkg/inventory"
)

// DeleteOptions contains options for deleting a service.
type DeleteOptions struct {
	// Wait for the objects to be removed from the cluster.
	Wait bool

	WaitTimeout time.Duration
}

// Delete removes the objects recorded in the inventory of a service,
// followed by the inventory and the ShipcatManifest.
// A service that was never applied has nothing to delete and returns an empty change set.
func (d *Deployer) Delete(ctx context.Context, name, namespace string, opts DeleteOptions) (*ssa.ChangeSet, error) {
	changeSet := ssa.NewChangeSet()

	inv := inventory.NewInventory(name, namespace)
	if err := d.storage.GetInventory(ctx, inv); err != nil {
		if !apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("inventory query failed, error: %w", err)
		}
	}

	objects, err := inv.ListObjects()
	if err != nil {
		return nil, err
	}

	if len(objects) > 0 {
		sort.Sort(sort.Reverse(ssa.SortableUnstructureds(objects)))
		cs, err := d.manager.DeleteAll(ctx, objects, ssa.DefaultDeleteOptions())
		if err != nil {
			return nil, err
		}
		changeSet.Append(cs.Entries)
	}

	if err := d.storage.DeleteInventory(ctx, inv); err != nil {
		return changeSet, err
	}
	if err := d.CRD(name, namespace).Delete(ctx); err != nil {
		return changeSet, err
	}

	if opts.Wait && len(objects) > 0 {
		waitOpts := ssa.DefaultWaitOptions()
		if opts.WaitTimeout > 0 {
			waitOpts.Timeout = opts.WaitTimeout
		}
		if err := d.manager.WaitForTermination(objects, waitOpts); err != nil {
			return changeSet, fmt.Errorf("waiting for termination failed, error: %w", err)
		}
	}

	return changeSet, nil
}
