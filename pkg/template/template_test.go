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

package template

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/shipcat/shipcat/pkg/manifest"
)

func strPtr(s string) *string {
	return &s
}

func TestRenderConfigs(t *testing.T) {
	g := NewWithT(t)

	mf := &manifest.Manifest{
		Name:        "fake-ask",
		Region:      "dev-uk",
		Environment: "dev",
		Namespace:   "apps",
		Version:     "1.2.3",
		Env: map[string]string{
			"LOG_LEVEL":    "debug",
			"DATABASE_URL": manifest.SecretMarker,
		},
		Secrets: map[string]string{"DATABASE_URL": "postgres://db"},
		Configs: &manifest.ConfigMap{
			MountPath: "/config/",
			Files: []manifest.ConfigMappedFile{
				{
					Name:  "newrelic.ini.j2",
					Dest:  "newrelic.ini",
					Value: strPtr("app_name = {{ .Name }}-{{ .Region | upper }}\nlog_level = {{ .Env.LOG_LEVEL }}\n"),
				},
				{
					Name:  "db.conf.j2",
					Dest:  "db.conf",
					Value: strPtr("url={{ .Env.DATABASE_URL | quote }} version={{ .Version }} ns={{ .Manifest.Namespace }}"),
				},
			},
		},
	}

	g.Expect(RenderConfigs(mf)).To(Succeed())
	g.Expect(*mf.Configs.Files[0].Value).To(Equal("app_name = fake-ask-DEV-UK\nlog_level = debug\n"))
	g.Expect(*mf.Configs.Files[1].Value).To(Equal(`url="postgres://db" version=1.2.3 ns=apps`))
}

func TestRenderMissingKey(t *testing.T) {
	g := NewWithT(t)

	mf := &manifest.Manifest{Name: "fake-ask", Env: map[string]string{}}
	_, err := Render("broken.j2", "{{ .Env.MISSING }}", NewContext(mf))
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("broken.j2"))
}

func TestRenderParseError(t *testing.T) {
	g := NewWithT(t)

	_, err := Render("bad.j2", "{{ .Name ", Context{})
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("parsing template bad.j2"))
}

func TestRenderConfigsWithoutConfigs(t *testing.T) {
	g := NewWithT(t)
	g.Expect(RenderConfigs(&manifest.Manifest{Name: "fake-storage"})).To(Succeed())
}
