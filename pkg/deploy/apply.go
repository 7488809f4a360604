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
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/shipcat/shipcat/pkg/inventory"
	"github.com/shipcat/shipcat/pkg/manifest"
	"github.com/shipcat/shipcat/pkg/secrets"
)

const (
	DefaultApplyReason = "manual"

	ReasonGenerateError = "GenerateError"
	ReasonApplyError    = "ApplyError"
	ReasonRolloutError  = "RolloutError"
)

// ApplyOptions contains options for applying a service.
type ApplyOptions struct {
	// Force recreates objects that contain immutable field changes.
	Force bool

	// Prune deletes the objects removed from the service since the last apply.
	Prune bool

	// Wait for the workloads to become ready and record the rollout.
	Wait bool

	// WaitTimeout bounds the readiness and termination waits.
	WaitTimeout time.Duration

	// Reason is recorded in the ShipcatManifest status.
	Reason string

	// OnApplied is called with the changes once the objects are applied,
	// before waiting for the rollout.
	OnApplied func(result *ApplyResult)
}

func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{
		Prune:       true,
		Wait:        true,
		WaitTimeout: 5 * time.Minute,
		Reason:      DefaultApplyReason,
	}
}

// ApplyResult lists the changes made on the cluster.
type ApplyResult struct {
	Version string
	Applied *ssa.ChangeSet
	Pruned  *ssa.ChangeSet
}

// Apply deploys a service: it stores the manifest in its ShipcatManifest, generates
// and applies the objects, prunes the stale ones and waits for the rollout.
// The outcome of each stage is recorded in the ShipcatManifest status.
func (d *Deployer) Apply(ctx context.Context, root string, base *manifest.Manifest, resolver secrets.Resolver, opts ApplyOptions) (*ApplyResult, error) {
	if !base.Base() {
		return nil, fmt.Errorf("%s: apply expects a manifest without resolved secrets", base.Name)
	}
	if opts.Reason == "" {
		opts.Reason = DefaultApplyReason
	}

	mf := base.DeepCopy()
	if err := d.ResolveVersion(ctx, mf); err != nil {
		return nil, err
	}

	sm := d.CRD(mf.Name, mf.Namespace)
	if err := sm.Apply(ctx, mf); err != nil {
		return nil, err
	}

	objects, err := Render(ctx, root, mf, resolver)
	if err != nil {
		return nil, record(err, sm.UpdateGenerate(ctx, false, ReasonGenerateError, err.Error()))
	}
	if err := sm.UpdateGenerate(ctx, true, "", ""); err != nil {
		return nil, err
	}

	result := &ApplyResult{Version: mf.Version, Applied: ssa.NewChangeSet(), Pruned: ssa.NewChangeSet()}

	pruned, err := d.applyObjects(ctx, mf, objects, opts, result)
	if err != nil {
		return result, record(err, sm.UpdateApply(ctx, false, opts.Reason, ReasonApplyError, err.Error()))
	}
	if err := sm.UpdateApply(ctx, true, opts.Reason, "", ""); err != nil {
		return result, err
	}
	if opts.OnApplied != nil {
		opts.OnApplied(result)
	}

	if !opts.Wait {
		return result, nil
	}

	waitOpts := ssa.DefaultWaitOptions()
	if opts.WaitTimeout > 0 {
		waitOpts.Timeout = opts.WaitTimeout
	}

	if err := d.manager.Wait(objects, waitOpts); err != nil {
		err = fmt.Errorf("%s rollout failed, error: %w", mf.Name, err)
		return result, record(err, sm.UpdateRollout(ctx, false, mf.Version, ReasonRolloutError, err.Error()))
	}
	if len(pruned) > 0 {
		if err := d.manager.WaitForTermination(pruned, waitOpts); err != nil {
			return result, fmt.Errorf("waiting for termination failed, error: %w", err)
		}
	}

	return result, sm.UpdateRollout(ctx, true, mf.Version, "", "")
}

func (d *Deployer) applyObjects(ctx context.Context, mf *manifest.Manifest, objects []*unstructured.Unstructured, opts ApplyOptions, result *ApplyResult) ([]*unstructured.Unstructured, error) {
	newInventory := inventory.NewInventory(mf.Name, mf.Namespace)
	newInventory.SetVersion(mf.Version, mf.Region)
	if err := newInventory.AddObjects(objects); err != nil {
		return nil, fmt.Errorf("creating inventory failed, error: %w", err)
	}

	d.manager.SetOwnerLabels(objects, mf.Name, mf.Namespace)

	// contains only CRDs and Namespaces
	var stageOne []*unstructured.Unstructured

	// contains all objects except for CRDs and Namespaces
	var stageTwo []*unstructured.Unstructured

	for _, u := range objects {
		if ssa.IsClusterDefinition(u) {
			stageOne = append(stageOne, u)
		} else {
			stageTwo = append(stageTwo, u)
		}
	}

	applyOpts := ssa.DefaultApplyOptions()
	applyOpts.Force = opts.Force

	waitOpts := ssa.DefaultWaitOptions()
	if opts.WaitTimeout > 0 {
		waitOpts.Timeout = opts.WaitTimeout
	}

	if len(stageOne) > 0 {
		changeSet, err := d.manager.ApplyAll(ctx, stageOne, applyOpts)
		if err != nil {
			return nil, err
		}
		result.Applied.Append(changeSet.Entries)

		if err := d.manager.Wait(stageOne, waitOpts); err != nil {
			return nil, err
		}
	}

	sort.Sort(ssa.SortableUnstructureds(stageTwo))
	for _, object := range stageTwo {
		change, err := d.manager.Apply(ctx, object, applyOpts)
		if err != nil {
			return nil, err
		}
		result.Applied.Add(*change)
	}

	staleObjects, err := d.storage.GetInventoryStaleObjects(ctx, newInventory)
	if err != nil {
		return nil, fmt.Errorf("inventory query failed, error: %w", err)
	}

	if err := d.storage.ApplyInventory(ctx, newInventory); err != nil {
		return nil, fmt.Errorf("inventory apply failed, error: %w", err)
	}

	if !opts.Prune || len(staleObjects) == 0 {
		return nil, nil
	}

	changeSet, err := d.manager.DeleteAll(ctx, staleObjects, ssa.DefaultDeleteOptions())
	if err != nil {
		return nil, fmt.Errorf("prune failed, error: %w", err)
	}
	result.Pruned.Append(changeSet.Entries)
	return staleObjects, nil
}

// record returns the stage error, joined with the status update error if any.
func record(err, statusErr error) error {
	if statusErr == nil {
		return err
	}
	return utilerrors.NewAggregate([]error{err, statusErr})
}
