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

package crd

import (
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/shipcat/shipcat/pkg/config"
)

const (
	Kind     = "ShipcatManifest"
	ListKind = "ShipcatManifestList"
	Plural   = "shipcatmanifests"
	Singular = "shipcatmanifest"
	Version  = "v1"
)

// GroupVersionKind of the ShipcatManifest custom resource.
var GroupVersionKind = schema.GroupVersionKind{
	Group:   config.ShipcatGroup,
	Version: Version,
	Kind:    Kind,
}

// Name returns the name of the CustomResourceDefinition.
func Name() string {
	return Plural + "." + config.ShipcatGroup
}

// Definition returns the CustomResourceDefinition of ShipcatManifest.
// The spec holds a manifest without secrets, the status is managed by the apply pipeline.
func Definition() *apiextensionsv1.CustomResourceDefinition {
	preserve := true
	object := func(description string) apiextensionsv1.JSONSchemaProps {
		return apiextensionsv1.JSONSchemaProps{
			Type:                   "object",
			Description:            description,
			XPreserveUnknownFields: &preserve,
		}
	}

	return &apiextensionsv1.CustomResourceDefinition{
		TypeMeta: metav1.TypeMeta{
			APIVersion: apiextensionsv1.SchemeGroupVersion.String(),
			Kind:       "CustomResourceDefinition",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: Name(),
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": config.ShipcatFieldManagerName,
			},
		},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: config.ShipcatGroup,
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Kind:       Kind,
				ListKind:   ListKind,
				Plural:     Plural,
				Singular:   Singular,
				ShortNames: []string{"sm"},
				Categories: []string{"all"},
			},
			Scope: apiextensionsv1.NamespaceScoped,
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{
				{
					Name:    Version,
					Served:  true,
					Storage: true,
					Schema: &apiextensionsv1.CustomResourceValidation{
						OpenAPIV3Schema: &apiextensionsv1.JSONSchemaProps{
							Type: "object",
							Properties: map[string]apiextensionsv1.JSONSchemaProps{
								"apiVersion": {Type: "string"},
								"kind":       {Type: "string"},
								"metadata":   {Type: "object"},
								"spec":       object("Manifest of the service without secrets."),
								"status":     object("Outcome of the last generate, apply and rollout."),
							},
						},
					},
					Subresources: &apiextensionsv1.CustomResourceSubresources{
						Status: &apiextensionsv1.CustomResourceSubresourceStatus{},
					},
					AdditionalPrinterColumns: []apiextensionsv1.CustomResourceColumnDefinition{
						{Name: "Version", Type: "string", JSONPath: ".spec.version"},
						{Name: "Team", Type: "string", JSONPath: ".spec.metadata.team"},
						{Name: "Kong", Type: "string", JSONPath: ".spec.kong.uris"},
						{Name: "Age", Type: "date", JSONPath: ".metadata.creationTimestamp"},
					},
				},
			},
		},
	}
}
