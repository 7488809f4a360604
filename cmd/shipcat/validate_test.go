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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/v1/random"
	. "github.com/onsi/gomega"
)

func TestValidate(t *testing.T) {
	g := NewWithT(t)
	id := "validate-" + randStringRunes(5)
	image := fmt.Sprintf("%s/babylonhealth/%s", registryHost, id)

	files := append(testRepo(id, image), TestFile{
		Name: "services/fake-cron/manifest.yml",
		Body: `---
regions: [dev-uk]
metadata:
  team: devops
  repo: https://github.com/babylonhealth/fake-cron
image: quay.io/babylonhealth/fake-cron
env:
  SCHEDULE: hourly
`,
	})
	dir, err := makeTestDir(id, files)
	g.Expect(err).NotTo(HaveOccurred())

	t.Run("validates the manifest", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("validate fake-ask --root %s -r dev-uk", dir))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("fake-ask is valid"))
	})

	t.Run("reports invalid manifests", func(t *testing.T) {
		_, err := executeCommand(fmt.Sprintf("validate fake-ask fake-broken --root %s -r dev-uk", dir))
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("env log_level must be uppercase"))
		g.Expect(err.Error()).NotTo(ContainSubstring("fake-ask"))
	})

	t.Run("checks secrets", func(t *testing.T) {
		_, err := executeCommand(fmt.Sprintf("validate fake-ask --root %s -r dev-uk --secrets", dir))
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("DATABASE_URL"))

		_, err = executeCommand(fmt.Sprintf("validate fake-ask --root %s -r dev-uk --secrets --mock-secrets", dir))
		g.Expect(err).NotTo(HaveOccurred())
	})

	t.Run("renders services without a version", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("validate fake-cron --root %s -r dev-uk --secrets --mock-secrets", dir))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("fake-cron is valid"))
	})

	t.Run("fails for a missing image", func(t *testing.T) {
		_, err := executeCommand(fmt.Sprintf("validate fake-ask --root %s -r dev-uk --check-image", dir))
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("image tag not found"))
	})

	t.Run("passes once the image is pushed", func(t *testing.T) {
		img, err := random.Image(256, 1)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(crane.Push(img, image+":1.2.3")).To(Succeed())

		_, err = executeCommand(fmt.Sprintf("validate fake-ask --root %s -r dev-uk --check-image", dir))
		g.Expect(err).NotTo(HaveOccurred())
	})

	t.Run("suggests the latest released version", func(t *testing.T) {
		g.Expect(os.WriteFile(filepath.Join(dir, "services/fake-ask/dev.yml"), []byte("version: 2.0.0\n"), 0644)).To(Succeed())
		defer os.WriteFile(filepath.Join(dir, "services/fake-ask/dev.yml"), []byte("env:\n  LOG_LEVEL: debug\n"), 0644)

		_, err := executeCommand(fmt.Sprintf("validate fake-ask --root %s -r dev-uk --check-image", dir))
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("image tag not found, the latest released version is 1.2.3"))
	})
}
