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
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fluxcd/pkg/ssa"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/yaml"

	"github.com/shipcat/shipcat/pkg/inventory"
	"github.com/shipcat/shipcat/pkg/manifest"
	"github.com/shipcat/shipcat/pkg/secrets"
)

const (
	DiffCreated = "created"
	DiffDrifted = "drifted"
	DiffDeleted = "deleted"
)

// DiffEntry describes how an object differs from its in-cluster state.
type DiffEntry struct {
	Subject string
	Action  string

	// Diff holds the unified diff of a drifted object.
	Diff string
}

// Diff compares the generated objects of a service with the in-cluster objects.
// Objects that fail the dry-run are reported together after all others are compared.
func (d *Deployer) Diff(ctx context.Context, root string, base *manifest.Manifest, resolver secrets.Resolver) ([]DiffEntry, error) {
	mf := base.DeepCopy()
	if err := d.ResolveVersion(ctx, mf); err != nil {
		return nil, err
	}

	objects, err := Render(ctx, root, mf, resolver)
	if err != nil {
		return nil, err
	}

	newInventory := inventory.NewInventory(mf.Name, mf.Namespace)
	if err := newInventory.AddObjects(objects); err != nil {
		return nil, fmt.Errorf("creating inventory failed, error: %w", err)
	}

	d.manager.SetOwnerLabels(objects, mf.Name, mf.Namespace)

	if _, err := exec.LookPath("diff"); err != nil {
		return nil, fmt.Errorf("diff binary not found in PATH, error: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "shipcat-"+mf.Name)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	var entries []DiffEntry
	var errs []error
	for _, object := range objects {
		change, liveObject, mergedObject, err := d.manager.Diff(ctx, object, ssa.DefaultDiffOptions())
		if err != nil {
			errs = append(errs, err)
			continue
		}

		switch change.Action {
		case string(ssa.CreatedAction):
			entries = append(entries, DiffEntry{Subject: change.Subject, Action: DiffCreated})
		case string(ssa.ConfiguredAction):
			out, err := unifiedDiff(tmpDir, MaskSecret(liveObject), MaskSecret(mergedObject))
			if err != nil {
				return nil, err
			}
			entries = append(entries, DiffEntry{Subject: change.Subject, Action: DiffDrifted, Diff: out})
		}
	}

	staleObjects, err := d.storage.GetInventoryStaleObjects(ctx, newInventory)
	if err != nil {
		return nil, fmt.Errorf("inventory query failed, error: %w", err)
	}
	for _, object := range staleObjects {
		entries = append(entries, DiffEntry{Subject: ssa.FmtUnstructured(object), Action: DiffDeleted})
	}

	return entries, utilerrors.NewAggregate(errs)
}

func unifiedDiff(dir string, live, merged *unstructured.Unstructured) (string, error) {
	liveYAML, err := yaml.Marshal(live)
	if err != nil {
		return "", err
	}
	liveFile := filepath.Join(dir, "live.yaml")
	if err := os.WriteFile(liveFile, liveYAML, 0644); err != nil {
		return "", err
	}

	mergedYAML, err := yaml.Marshal(merged)
	if err != nil {
		return "", err
	}
	mergedFile := filepath.Join(dir, "merged.yaml")
	if err := os.WriteFile(mergedFile, mergedYAML, 0644); err != nil {
		return "", err
	}

	// diff exits with 1 when the files differ
	out, _ := exec.Command("diff", "-N", "-u", liveFile, mergedFile).Output()

	var lines []string
	for i, line := range strings.Split(string(out), "\n") {
		if i > 1 && len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// MaskSecret returns a copy of a Secret with its values replaced by a digest,
// so that a change is visible without printing the value. Other objects are
// returned unchanged.
func MaskSecret(u *unstructured.Unstructured) *unstructured.Unstructured {
	if u == nil || u.GetKind() != "Secret" {
		return u
	}
	masked := u.DeepCopy()
	for _, field := range []string{"data", "stringData"} {
		values, ok, _ := unstructured.NestedStringMap(masked.Object, field)
		if !ok {
			continue
		}
		for k, v := range values {
			sum := sha256.Sum256([]byte(v))
			values[k] = fmt.Sprintf("*** (sha256:%x)", sum[:4])
		}
		_ = unstructured.SetNestedStringMap(masked.Object, values, field)
	}
	return masked
}
