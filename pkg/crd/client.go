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

package crd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fluxcd/pkg/ssa"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/shipcat/shipcat/pkg/manifest"
)

const (
	ActionGenerate = "Generate"
	ActionApply    = "Apply"
	ActionRollout  = "Rollout"
)

// ShipcatManifest is a typed view of the custom resource.
type ShipcatManifest struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   manifest.Manifest `json:"spec"`
	Status *ManifestStatus   `json:"status,omitempty"`
}

// MinimalManifest holds the properties that exist on every ShipcatManifest.
type MinimalManifest struct {
	Name    string
	Version string
	Status  *ManifestStatus
}

// Client manages the ShipcatManifest of a single service.
type Client struct {
	kube      client.Client
	owner     ssa.Owner
	name      string
	namespace string
	applier   Applier
	now       func() time.Time
}

func NewClient(kube client.Client, owner ssa.Owner, name, namespace string) *Client {
	return &Client{
		kube:      kube,
		owner:     owner,
		name:      name,
		namespace: namespace,
		applier:   InferApplier(os.Getenv),
		now:       time.Now,
	}
}

func (c *Client) object() *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(GroupVersionKind)
	u.SetName(c.name)
	u.SetNamespace(c.namespace)
	return u
}

// Apply writes the manifest to the spec of the custom resource.
// The manifest must carry a version and no resolved secrets.
func (c *Client) Apply(ctx context.Context, mf *manifest.Manifest) error {
	if mf.Version == "" {
		return fmt.Errorf("%s: version must be set before applying the %s", mf.Name, Kind)
	}
	if !mf.Base() {
		return fmt.Errorf("%s: secrets must not be stored in the %s", mf.Name, Kind)
	}

	data, err := json.Marshal(mf)
	if err != nil {
		return err
	}
	spec := map[string]interface{}{}
	if err := json.Unmarshal(data, &spec); err != nil {
		return err
	}

	u := c.object()
	u.SetLabels(map[string]string{
		"app.kubernetes.io/name":       mf.Name,
		"app.kubernetes.io/managed-by": c.owner.Field,
	})
	if err := unstructured.SetNestedMap(u.Object, spec, "spec"); err != nil {
		return err
	}

	opts := []client.PatchOption{
		client.ForceOwnership,
		client.FieldOwner(c.owner.Field),
	}
	if err := c.kube.Patch(ctx, u, client.Apply, opts...); err != nil {
		return fmt.Errorf("applying %s/%s/%s failed, error: %w", Kind, c.namespace, c.name, err)
	}
	return nil
}

// Get fetches the custom resource.
func (c *Client) Get(ctx context.Context) (*ShipcatManifest, error) {
	u := c.object()
	if err := c.kube.Get(ctx, client.ObjectKeyFromObject(u), u); err != nil {
		return nil, err
	}

	data, err := json.Marshal(u.Object)
	if err != nil {
		return nil, err
	}
	sm := &ShipcatManifest{}
	if err := json.Unmarshal(data, sm); err != nil {
		return nil, fmt.Errorf("decoding %s/%s/%s failed, error: %w", Kind, c.namespace, c.name, err)
	}
	return sm, nil
}

// GetMinimal fetches the name and version of the custom resource,
// it does not fail on specs written by older releases.
func (c *Client) GetMinimal(ctx context.Context) (*MinimalManifest, error) {
	u := c.object()
	if err := c.kube.Get(ctx, client.ObjectKeyFromObject(u), u); err != nil {
		return nil, err
	}

	version, _, err := unstructured.NestedString(u.Object, "spec", "version")
	if err != nil {
		return nil, err
	}

	mm := &MinimalManifest{Name: u.GetName(), Version: version}
	if status, ok, _ := unstructured.NestedMap(u.Object, "status"); ok {
		data, err := json.Marshal(status)
		if err == nil {
			st := &ManifestStatus{}
			if json.Unmarshal(data, st) == nil {
				mm.Status = st
			}
		}
	}
	return mm, nil
}

// Delete removes the custom resource, a missing resource is not an error.
func (c *Client) Delete(ctx context.Context) error {
	err := c.kube.Delete(ctx, c.object())
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete %s/%s/%s, error: %w", Kind, c.namespace, c.name, err)
	}
	return nil
}

func (c *Client) condition(ok bool, reason, message string) *Condition {
	applier := c.applier
	cond := &Condition{
		Status:         ok,
		Source:         &applier,
		LastTransition: metav1.NewTime(c.now().UTC().Truncate(time.Second)),
	}
	if !ok {
		cond.Reason = reason
		cond.Message = message
	}
	return cond
}

func (c *Client) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}

// UpdateGenerate records the outcome of generating the objects.
func (c *Client) UpdateGenerate(ctx context.Context, ok bool, reason, message string) error {
	summary := map[string]interface{}{
		"lastAction": ActionGenerate,
	}
	if ok {
		summary["lastSuccessfulGenerate"] = c.timestamp()
	} else {
		summary["lastFailureReason"] = message
	}
	return c.patchStatus(ctx, "generated", c.condition(ok, reason, message), summary)
}

// UpdateApply records the outcome of applying the objects and the reason the apply was started.
func (c *Client) UpdateApply(ctx context.Context, ok bool, applyReason, reason, message string) error {
	now := c.timestamp()
	summary := map[string]interface{}{
		"lastAction":      ActionApply,
		"lastApply":       now,
		"lastApplyReason": applyReason,
	}
	if ok {
		summary["lastSuccessfulApply"] = now
	} else {
		summary["lastFailureReason"] = message
	}
	return c.patchStatus(ctx, "applied", c.condition(ok, reason, message), summary)
}

// UpdateRollout records the outcome of waiting for the workloads.
// A successful rollout clears the last failure.
func (c *Client) UpdateRollout(ctx context.Context, ok bool, version, reason, message string) error {
	now := c.timestamp()
	summary := map[string]interface{}{
		"lastAction":  ActionRollout,
		"lastRollout": now,
	}
	if ok {
		summary["lastSuccessfulRollout"] = now
		summary["lastSuccessfulRolloutVersion"] = version
		summary["lastFailureReason"] = nil
	} else {
		summary["lastFailureReason"] = message
	}
	return c.patchStatus(ctx, "rolledout", c.condition(ok, reason, message), summary)
}

func (c *Client) patchStatus(ctx context.Context, condition string, cond *Condition, summary map[string]interface{}) error {
	data, err := json.Marshal(map[string]interface{}{
		"status": map[string]interface{}{
			"conditions": map[string]interface{}{
				condition: cond,
			},
			"summary": summary,
		},
	})
	if err != nil {
		return err
	}

	if err := c.kube.Status().Patch(ctx, c.object(), client.RawPatch(types.MergePatchType, data)); err != nil {
		return fmt.Errorf("patching %s/%s/%s status failed, error: %w", Kind, c.namespace, c.name, err)
	}
	return nil
}
