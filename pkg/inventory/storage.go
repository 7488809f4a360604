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

package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fluxcd/pkg/ssa"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	InventoryKindName = "inventory"
	InventoryPrefix   = "shipcat-"
	nameLabelKey      = "app.kubernetes.io/name"
	componentLabelKey = "app.kubernetes.io/component"
	createdByLabelKey = "app.kubernetes.io/created-by"
)

// Storage manages the Inventory in-cluster storage.
type Storage struct {
	Manager *ssa.ResourceManager
	Owner   ssa.Owner
}

// GetOwnerLabels returns the inventory storage common labels.
func (m *Storage) GetOwnerLabels() client.MatchingLabels {
	return client.MatchingLabels{
		componentLabelKey: InventoryKindName,
		createdByLabelKey: m.Owner.Field,
	}
}

func (m *Storage) annotation(name string) string {
	return m.Owner.Group + "/" + name
}

// ApplyInventory creates or updates the storage object for the given inventory.
func (m *Storage) ApplyInventory(ctx context.Context, i *Inventory) error {
	data, err := json.Marshal(i.Entries)
	if err != nil {
		return err
	}

	cm := m.newConfigMap(i.Name, i.Namespace)
	cm.Annotations = map[string]string{
		m.annotation("last-applied-time"): time.Now().UTC().Format(time.RFC3339),
	}
	if i.Version != "" {
		cm.Annotations[m.annotation("version")] = i.Version
	}
	if i.Region != "" {
		cm.Annotations[m.annotation("region")] = i.Region
	}

	cm.Data = map[string]string{
		InventoryKindName: string(data),
	}

	opts := []client.PatchOption{
		client.ForceOwnership,
		client.FieldOwner(m.Owner.Field),
	}
	return m.Manager.Client().Patch(ctx, cm, client.Apply, opts...)
}

// GetInventory retrieves the entries from the storage for the given inventory name and namespace.
func (m *Storage) GetInventory(ctx context.Context, i *Inventory) error {
	cm := m.newConfigMap(i.Name, i.Namespace)

	cmKey := client.ObjectKeyFromObject(cm)
	if err := m.Manager.Client().Get(ctx, cmKey, cm); err != nil {
		return err
	}

	return m.fromConfigMap(cm, i)
}

func (m *Storage) fromConfigMap(cm *corev1.ConfigMap, i *Inventory) error {
	data, ok := cm.Data[InventoryKindName]
	if !ok {
		return fmt.Errorf("inventory data not found in ConfigMap/%s", client.ObjectKeyFromObject(cm))
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return err
	}
	i.Entries = entries

	for k, v := range cm.GetAnnotations() {
		switch k {
		case m.annotation("version"):
			i.Version = v
		case m.annotation("region"):
			i.Region = v
		case m.annotation("last-applied-time"):
			i.LastAppliedTime = v
		}
	}

	return nil
}

// ListInventories returns the inventories stored in the given namespace, sorted by service name.
func (m *Storage) ListInventories(ctx context.Context, namespace string) ([]*Inventory, error) {
	list := &corev1.ConfigMapList{}
	if err := m.Manager.Client().List(ctx, list, client.InNamespace(namespace), m.GetOwnerLabels()); err != nil {
		return nil, err
	}

	result := make([]*Inventory, 0, len(list.Items))
	for idx := range list.Items {
		cm := &list.Items[idx]
		i := NewInventory(strings.TrimPrefix(cm.GetName(), InventoryPrefix), cm.GetNamespace())
		if err := m.fromConfigMap(cm, i); err != nil {
			return nil, err
		}
		result = append(result, i)
	}

	sort.Slice(result, func(a, b int) bool {
		return result[a].Name < result[b].Name
	})
	return result, nil
}

// DeleteInventory removes the storage for the given inventory name and namespace.
func (m *Storage) DeleteInventory(ctx context.Context, i *Inventory) error {
	cm := m.newConfigMap(i.Name, i.Namespace)

	cmKey := client.ObjectKeyFromObject(cm)
	err := m.Manager.Client().Delete(ctx, cm)
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete ConfigMap/%s, error: %w", cmKey, err)
	}
	return nil
}

// GetInventoryStaleObjects returns the list of objects metadata subject to pruning.
func (m *Storage) GetInventoryStaleObjects(ctx context.Context, i *Inventory) ([]*unstructured.Unstructured, error) {
	objects := make([]*unstructured.Unstructured, 0)
	existingInventory := NewInventory(i.Name, i.Namespace)
	if err := m.GetInventory(ctx, existingInventory); err != nil {
		if apierrors.IsNotFound(err) {
			return objects, nil
		}
		return nil, err
	}

	return existingInventory.Diff(i)
}

func (m *Storage) newConfigMap(name, namespace string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "ConfigMap",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      InventoryPrefix + name,
			Namespace: namespace,
			Labels: map[string]string{
				nameLabelKey:      name,
				componentLabelKey: InventoryKindName,
				createdByLabelKey: m.Owner.Field,
			},
		},
	}
}
