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
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/shipcat/shipcat/pkg/manifest"
)

// Context is the data config file templates are executed with.
type Context struct {
	Name        string
	Region      string
	Environment string
	Namespace   string
	Version     string

	// Env holds the plain env and the resolved secrets.
	Env map[string]string

	Manifest *manifest.Manifest
}

// NewContext returns the template context of a manifest.
func NewContext(mf *manifest.Manifest) Context {
	env := mf.PlainEnv()
	for k, v := range mf.Secrets {
		env[k] = v
	}
	return Context{
		Name:        mf.Name,
		Region:      mf.Region,
		Environment: mf.Environment,
		Namespace:   mf.Namespace,
		Version:     mf.Version,
		Env:         env,
		Manifest:    mf,
	}
}

// Render executes a single template.
func Render(name, text string, ctx Context) (string, error) {
	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template %s failed, error: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("rendering template %s failed, error: %w", name, err)
	}
	return buf.String(), nil
}

// RenderConfigs replaces the raw template of every config file with its rendered content.
func RenderConfigs(mf *manifest.Manifest) error {
	if mf.Configs == nil {
		return nil
	}

	ctx := NewContext(mf)
	for i, f := range mf.Configs.Files {
		if f.Value == nil {
			return fmt.Errorf("config file %s has no template", f.Name)
		}
		out, err := Render(f.Name, *f.Value, ctx)
		if err != nil {
			return err
		}
		mf.Configs.Files[i].Value = &out
	}
	return nil
}
