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
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/shipcat/shipcat/pkg/config"
)

func writeFile(root, name, body string) error {
	p := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(body), 0644)
}

func reconcileConfig(namespace string) (*config.Config, *config.Region) {
	conf := config.NewConfig()
	conf.Clusters["kind"] = config.Cluster{Regions: []string{"dev-uk"}}
	conf.Teams = []config.Team{{Name: "devops", Support: "#devops"}}
	conf.Regions = []config.Region{
		{
			Name:        "dev-uk",
			Environment: "dev",
			Namespace:   namespace,
			Cluster:     "kind",
		},
	}
	return conf, &conf.Regions[0]
}

func TestReconcile(t *testing.T) {
	g := NewWithT(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ns := createNamespace(g, ctx, "reconcile")
	conf, region := reconcileConfig(ns)

	root := t.TempDir()
	files := map[string]string{
		"services/fake-ask/manifest.yml": `
regions: [dev-uk]
metadata:
  team: devops
  repo: https://github.com/babylonhealth/fake-ask
image: quay.io/babylonhealth/fake-ask
version: 1.2.3
httpPort: 8080
`,
		"services/fake-storage/manifest.yml": `
regions: [dev-uk]
metadata:
  team: devops
  repo: https://github.com/babylonhealth/fake-storage
image: quay.io/babylonhealth/fake-storage
`,
		"services/fake-worker/manifest.yml": `
regions: [dev-uk]
metadata:
  team: devops
  repo: https://github.com/babylonhealth/fake-worker
image: quay.io/babylonhealth/fake-worker
`,
		"services/fake-broken/manifest.yml": `
regions: [dev-uk]
metadata:
  team: nobody
  repo: https://github.com/babylonhealth/fake-broken
image: quay.io/babylonhealth/fake-broken
version: 1.0.0
`,
		"services/fake-prod/manifest.yml": `
regions: [prod-uk]
metadata:
  team: devops
  repo: https://github.com/babylonhealth/fake-prod
image: quay.io/babylonhealth/fake-prod
version: 1.0.0
`,
	}
	for name, body := range files {
		g.Expect(writeFile(root, name, body)).To(Succeed())
	}

	// fake-storage was deployed before with a pinned version
	storage := testManifest("fake-storage", ns)
	storage.Version = "0.9.0"
	g.Expect(deployer.CRD("fake-storage", ns).Apply(ctx, storage)).To(Succeed())

	// fake-legacy is no longer in the repository
	g.Expect(deployer.CRD("fake-legacy", ns).Apply(ctx, testManifest("fake-legacy", ns))).To(Succeed())

	result, err := deployer.Reconcile(ctx, root, conf, region, 2)
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("fake-broken"))

	g.Expect(result.Applied).To(Equal([]string{"fake-ask", "fake-storage"}))
	g.Expect(result.Skipped).To(Equal([]string{"fake-worker"}))
	g.Expect(result.Deleted).To(Equal([]string{"fake-legacy"}))

	sm, err := deployer.CRD("fake-storage", ns).Get(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sm.Spec.Version).To(Equal("0.9.0"))
	g.Expect(sm.Spec.Image).To(Equal("quay.io/babylonhealth/fake-storage"))

	sm, err = deployer.CRD("fake-ask", ns).Get(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sm.Spec.Version).To(Equal("1.2.3"))

	_, err = deployer.CRD("fake-worker", ns).Get(ctx)
	g.Expect(apierrors.IsNotFound(err)).To(BeTrue())

	_, err = deployer.CRD("fake-legacy", ns).Get(ctx)
	g.Expect(apierrors.IsNotFound(err)).To(BeTrue())

	_, err = deployer.CRD("fake-prod", ns).Get(ctx)
	g.Expect(apierrors.IsNotFound(err)).To(BeTrue())
}
