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

package generate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fluxcd/pkg/ssa"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/kustomize/api/krusty"
	kustypes "sigs.k8s.io/kustomize/api/types"
	"sigs.k8s.io/kustomize/kyaml/filesys"
	"sigs.k8s.io/yaml"

	"github.com/shipcat/shipcat/pkg/manifest"
)

// KustomizationFile holds the patches of a service, next to its manifest.
const KustomizationFile = "kustomization.yaml"

// krusty is not safe for concurrent use
var kustomizeBuildMutex sync.Mutex

// Patch applies the patches listed in services/<svc>/kustomization.yaml to the generated objects.
// Objects are returned unchanged when the service has no kustomization.
func Patch(root, svc string, objects []*unstructured.Unstructured) ([]*unstructured.Unstructured, error) {
	svcDir := filepath.Join(root, manifest.ServicesDir, svc)
	kFilePath := filepath.Join(svcDir, KustomizationFile)

	data, err := os.ReadFile(kFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return objects, nil
		}
		return nil, err
	}

	template := kustypes.Kustomization{}
	if err := yaml.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("%s: %w", kFilePath, err)
	}
	if len(template.Patches) == 0 {
		return nil, fmt.Errorf("no patches found in %s", kFilePath)
	}

	// patches referencing files are inlined, the build runs in memory
	patches := make([]kustypes.Patch, 0, len(template.Patches))
	for _, p := range template.Patches {
		if p.Path != "" {
			body, err := os.ReadFile(filepath.Join(svcDir, p.Path))
			if err != nil {
				return nil, fmt.Errorf("reading patch %s failed, error: %w", p.Path, err)
			}
			p.Patch = string(body)
			p.Path = ""
		}
		patches = append(patches, p)
	}

	resources, err := applyPatches(patches, objects)
	if err != nil {
		return nil, fmt.Errorf("patching %s failed, error: %w", svc, err)
	}
	return ssa.ReadObjects(bytes.NewReader(resources))
}

func applyPatches(patches []kustypes.Patch, objects []*unstructured.Unstructured) ([]byte, error) {
	kustomizeBuildMutex.Lock()
	defer kustomizeBuildMutex.Unlock()

	fs := filesys.MakeFsInMemory()
	kustomization := kustypes.Kustomization{}
	kustomization.APIVersion = kustypes.KustomizationVersion
	kustomization.Kind = kustypes.KustomizationKind

	const input = "resources.yaml"
	kustomization.Resources = append(kustomization.Resources, input)
	yml, err := ssa.ObjectsToYAML(objects)
	if err != nil {
		return nil, err
	}
	if err := fs.WriteFile(input, []byte(yml)); err != nil {
		return nil, err
	}

	kustomization.Patches = patches
	d, err := yaml.Marshal(kustomization)
	if err != nil {
		return nil, err
	}
	if err := fs.WriteFile(KustomizationFile, d); err != nil {
		return nil, err
	}

	k := krusty.MakeKustomizer(krusty.MakeDefaultOptions())
	m, err := k.Run(fs, ".")
	if err != nil {
		return nil, err
	}
	return m.AsYaml()
}

// FixReplicasConflict removes the replicas field from the workloads managed by an HPA.
func FixReplicasConflict(objects []*unstructured.Unstructured) {
	for _, object := range objects {
		for _, hpa := range objects {
			if hpa.GetKind() != "HorizontalPodAutoscaler" || object.GetNamespace() != hpa.GetNamespace() {
				continue
			}
			targetKind, _, _ := unstructured.NestedString(hpa.Object, "spec", "scaleTargetRef", "kind")
			targetName, _, _ := unstructured.NestedString(hpa.Object, "spec", "scaleTargetRef", "name")
			if targetKind == object.GetKind() && targetName == object.GetName() {
				unstructured.RemoveNestedField(object.Object, "spec", "replicas")
			}
		}
	}
}
