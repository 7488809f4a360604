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

package config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

const testConfig = `
defaults:
  imagePrefix: quay.io/babylonhealth
  replicaCount: 1
slack:
  team: T1234
teams:
- name: devops
  support: "#devops-support"
  notifications: "#devops-notifications"
clusters:
  kind-shipcat:
    api: https://127.0.0.1:6443
    regions: [dev-uk]
  prod-cluster:
    teleport: teleport.example.com
    regions: [prod-uk]
regions:
- name: dev-uk
  environment: dev
  namespace: dev
  cluster: kind-shipcat
  vault:
    url: http://127.0.0.1:8200
    folder: dev
- name: prod-uk
  environment: prod
  namespace: apps
  cluster: prod-cluster
  versioningScheme: semver
`

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), DefaultConfigFile)
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRead(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Read(writeConfig(t, testConfig))
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(cfg.RegionNames()).To(Equal([]string{"dev-uk", "prod-uk"}))
	g.Expect(cfg.FieldManager.Name).To(Equal(ShipcatFieldManagerName))
	g.Expect(cfg.ApplyOrder.First).NotTo(BeEmpty())
	g.Expect(*cfg.Defaults.ImagePrefix).To(Equal("quay.io/babylonhealth"))

	reg, err := cfg.GetRegion("prod-uk")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(reg.Namespace).To(Equal("apps"))
	g.Expect(reg.Secrets.GetBackend()).To(Equal(VaultBackend))

	cluster, ok := cfg.FindOwningCluster(reg)
	g.Expect(ok).To(BeTrue())
	g.Expect(cluster.Name).To(Equal("prod-cluster"))
	g.Expect(cluster.Teleport).To(Equal("teleport.example.com"))

	team, ok := cfg.FindTeam("devops")
	g.Expect(ok).To(BeTrue())
	g.Expect(cfg.Slack.Link(team.Support)).To(Equal("slack://channel?team=T1234&id=devops-support"))

	_, err = cfg.GetRegion("mars")
	g.Expect(err).To(HaveOccurred())
}

func TestReadInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		err  string
	}{
		{
			name: "unknown cluster",
			data: `
clusters: {}
regions:
- name: dev-uk
  namespace: dev
  cluster: nope
`,
			err: "unknown cluster",
		},
		{
			name: "duplicate region",
			data: `
clusters:
  c: {}
regions:
- {name: dev-uk, namespace: dev, cluster: c}
- {name: dev-uk, namespace: dev, cluster: c}
`,
			err: "more than once",
		},
		{
			name: "age backend without file",
			data: `
clusters:
  c: {}
regions:
- name: dev-uk
  namespace: dev
  cluster: c
  secrets:
    backend: age
`,
			err: "requires a file",
		},
		{
			name: "unknown field",
			data: `
clusters:
  c: {}
regionz: []
`,
			err: "regionz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			_, err := Read(writeConfig(t, tt.data))
			g.Expect(err).To(HaveOccurred())
			g.Expect(err.Error()).To(ContainSubstring(tt.err))
		})
	}
}

func TestReadMissing(t *testing.T) {
	g := NewWithT(t)
	_, err := Read(filepath.Join(t.TempDir(), "missing.conf"))
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("manifests repository"))
}

func TestWrite(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Read(writeConfig(t, testConfig))
	g.Expect(err).NotTo(HaveOccurred())

	out := filepath.Join(t.TempDir(), "nested", DefaultConfigFile)
	g.Expect(cfg.Write(out)).To(Succeed())

	again, err := Read(out)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(again.RegionNames()).To(Equal(cfg.RegionNames()))
	g.Expect(again.Clusters).To(HaveKey("prod-cluster"))
}
