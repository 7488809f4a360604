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
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// objectOrder sorts the objects of a service in the order they are created:
// identities and configuration before the workloads that mount them,
// workloads before the objects routing or scaling them.
type objectOrder []*unstructured.Unstructured

func (objects objectOrder) Len() int {
	return len(objects)
}

func (objects objectOrder) Swap(i, j int) {
	objects[i], objects[j] = objects[j], objects[i]
}

func (objects objectOrder) Less(i, j int) bool {
	ranki, rankj := rankOfKind(objects[i].GetKind()), rankOfKind(objects[j].GetKind())
	if ranki == rankj {
		if objects[i].GetKind() == objects[j].GetKind() {
			return objects[i].GetName() < objects[j].GetName()
		}
		return objects[i].GetKind() < objects[j].GetKind()
	}
	return ranki < rankj
}

func rankOfKind(kind string) int {
	switch strings.ToLower(kind) {
	case "customresourcedefinition", "namespace":
		return 0
	case "serviceaccount", "role", "rolebinding":
		return 1
	case "configmap", "secret":
		return 2
	case "deployment", "statefulset", "daemonset", "job", "cronjob":
		return 3
	default:
		return 4
	}
}
