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
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/cli-utils/pkg/object"
)

// Inventory is a record of the objects a service deploy applied on a cluster.
type Inventory struct {
	// Name of the service.
	Name string `json:"-"`

	// Namespace of the service.
	Namespace string `json:"-"`

	// Version of the service at the last apply.
	Version string `json:"-"`

	// Region the service was applied from.
	Region string `json:"-"`

	// LastAppliedTime in RFC3339 format, set when read from the cluster.
	LastAppliedTime string `json:"-"`

	Entries []Entry `json:"entries"`
}

// Entry contains the information necessary to locate an object within the cluster.
type Entry struct {
	// ObjectID is the string representation of object.ObjMetadata,
	// in the format '<namespace>_<name>_<group>_<kind>'.
	ObjectID string `json:"id"`

	// ObjectVersion is the API version of this entry kind.
	ObjectVersion string `json:"ver"`
}

func NewInventory(name, namespace string) *Inventory {
	return &Inventory{
		Name:      name,
		Namespace: namespace,
		Entries:   []Entry{},
	}
}

// SetVersion records the service version and the region of the apply.
func (inv *Inventory) SetVersion(version, region string) {
	inv.Version = version
	inv.Region = region
}

// AddObjects extracts the metadata from the given objects and adds it to the inventory.
func (inv *Inventory) AddObjects(objects []*unstructured.Unstructured) error {
	sorted := append([]*unstructured.Unstructured(nil), objects...)
	sort.Sort(objectOrder(sorted))
	for _, om := range sorted {
		objMetadata := object.UnstructuredToObjMetadata(om)
		gv, err := schema.ParseGroupVersion(om.GetAPIVersion())
		if err != nil {
			return err
		}

		inv.Entries = append(inv.Entries, Entry{
			ObjectID:      objMetadata.String(),
			ObjectVersion: gv.Version,
		})
	}

	return nil
}

// ListMeta returns the inventory entries as object.ObjMetadata objects.
func (inv *Inventory) ListMeta() (object.ObjMetadataSet, error) {
	var metas []object.ObjMetadata
	for _, e := range inv.Entries {
		m, err := object.ParseObjMetadata(e.ObjectID)
		if err != nil {
			return metas, err
		}
		metas = append(metas, m)
	}

	return metas, nil
}

// ListObjects returns the inventory entries as unstructured.Unstructured objects.
func (inv *Inventory) ListObjects() ([]*unstructured.Unstructured, error) {
	objects := make([]*unstructured.Unstructured, 0, len(inv.Entries))
	for _, entry := range inv.Entries {
		u, err := entry.toUnstructured()
		if err != nil {
			return nil, err
		}
		objects = append(objects, u)
	}

	sort.Sort(objectOrder(objects))
	return objects, nil
}

// Diff returns the slice of objects that do not exist in the target inventory.
func (inv *Inventory) Diff(target *Inventory) ([]*unstructured.Unstructured, error) {
	versionOf := func(i *Inventory, objMetadata object.ObjMetadata) string {
		for _, entry := range i.Entries {
			if entry.ObjectID == objMetadata.String() {
				return entry.ObjectVersion
			}
		}
		return ""
	}

	objects := make([]*unstructured.Unstructured, 0)
	aList, err := inv.ListMeta()
	if err != nil {
		return nil, err
	}

	bList, err := target.ListMeta()
	if err != nil {
		return nil, err
	}

	list := aList.Diff(bList)
	if len(list) == 0 {
		return objects, nil
	}

	for _, metadata := range list {
		u := &unstructured.Unstructured{}
		u.SetGroupVersionKind(schema.GroupVersionKind{
			Group:   metadata.GroupKind.Group,
			Kind:    metadata.GroupKind.Kind,
			Version: versionOf(inv, metadata),
		})
		u.SetName(metadata.Name)
		u.SetNamespace(metadata.Namespace)
		objects = append(objects, u)
	}

	sort.Sort(objectOrder(objects))
	return objects, nil
}

func (e Entry) toUnstructured() (*unstructured.Unstructured, error) {
	m, err := object.ParseObjMetadata(e.ObjectID)
	if err != nil {
		return nil, err
	}
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(schema.GroupVersionKind{
		Group:   m.GroupKind.Group,
		Kind:    m.GroupKind.Kind,
		Version: e.ObjectVersion,
	})
	u.SetName(m.Name)
	u.SetNamespace(m.Namespace)
	return u, nil
}
