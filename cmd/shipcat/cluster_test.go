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
	"context"
	"fmt"
	"testing"

	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/shipcat/shipcat/pkg/crd"
)

func TestClusterCrd(t *testing.T) {
	g := NewWithT(t)
	id := "crd-" + randStringRunes(5)

	err := createNamespace(id)
	g.Expect(err).NotTo(HaveOccurred())

	files := append(testRepo(id, "quay.io/babylonhealth/fake-ask"), TestFile{
		Name: "services/fake-worker/manifest.yml",
		Body: `---
regions: [dev-uk]
metadata:
  team: devops
  repo: https://github.com/babylonhealth/fake-worker
image: quay.io/babylonhealth/fake-worker
`,
	})
	dir, err := makeTestDir(id, files)
	g.Expect(err).NotTo(HaveOccurred())

	t.Run("installs the definition", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("cluster crd install --root %s", dir))
		g.Expect(err).NotTo(HaveOccurred())
		t.Logf("\n%s", output)

		g.Expect(output).To(ContainSubstring(crd.Name()))
		g.Expect(output).To(ContainSubstring("established"))
	})

	t.Run("reconciles the manifests of the region", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("cluster crd reconcile --root %s -r dev-uk --num-jobs 2", dir))
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("fake-broken"))
		t.Logf("\n%s", output)

		g.Expect(output).To(ContainSubstring("ShipcatManifest/fake-ask applied"))
		g.Expect(output).To(ContainSubstring("ShipcatManifest/fake-worker skipped"))

		list := &unstructured.UnstructuredList{}
		list.SetGroupVersionKind(crd.GroupVersionKind.GroupVersion().WithKind(crd.ListKind))
		g.Expect(envTestClient.List(context.Background(), list, client.InNamespace(id))).To(Succeed())
		g.Expect(list.Items).To(HaveLen(1))
		g.Expect(list.Items[0].GetName()).To(Equal("fake-ask"))
	})
}

func TestKongConfig(t *testing.T) {
	g := NewWithT(t)
	id := "kong-" + randStringRunes(5)

	files := testRepo(id, "quay.io/babylonhealth/fake-ask")[:4]
	dir, err := makeTestDir(id, files)
	g.Expect(err).NotTo(HaveOccurred())

	t.Run("prints yaml", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("kong config --root %s -r dev-uk", dir))
		g.Expect(err).NotTo(HaveOccurred())
		t.Logf("\n%s", output)

		g.Expect(output).To(ContainSubstring("host: admin.dev.example.com"))
		g.Expect(output).To(ContainSubstring("name: fake-ask"))
		g.Expect(output).To(ContainSubstring("- /fake-ask"))
		g.Expect(output).To(ContainSubstring(fmt.Sprintf("upstream_url: http://fake-ask.%s.svc.cluster.local", id)))
		g.Expect(output).To(ContainSubstring("username: anonymous"))
	})

	t.Run("prints json", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("kong config --root %s -r dev-uk -o json", dir))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring(`"name": "fake-ask"`))
	})
}
