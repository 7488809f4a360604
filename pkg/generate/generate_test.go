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
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	apiruntime "k8s.io/apimachinery/pkg/runtime"

	"github.com/shipcat/shipcat/pkg/manifest"
)

func int32Ptr(i int32) *int32 {
	return &i
}

func strPtr(s string) *string {
	return &s
}

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Name:         "fake-ask",
		Regions:      []string{"dev-uk"},
		Region:       "dev-uk",
		Environment:  "dev",
		Namespace:    "apps",
		Image:        "quay.io/babylonhealth/fake-ask",
		Version:      "1.2.3",
		Metadata:     &manifest.Metadata{Team: "devops", Repo: "https://github.com/babylonhealth/fake-ask"},
		HTTPPort:     int32Ptr(8080),
		ReplicaCount: int32Ptr(2),
		Health:       &manifest.HealthCheck{URI: "/health"},
		Resources: &manifest.Resources{
			Requests: manifest.ResourceList{CPU: "100m", Memory: "100Mi"},
			Limits:   manifest.ResourceList{CPU: "1", Memory: "512Mi"},
		},
		Env: map[string]string{
			"LOG_LEVEL":    "info",
			"DATABASE_URL": manifest.SecretMarker,
		},
		Secrets:     map[string]string{"DATABASE_URL": "postgres://db"},
		SecretFiles: map[string]string{"tls.key": "pem"},
		Configs: &manifest.ConfigMap{
			MountPath: "/config/",
			Files: []manifest.ConfigMappedFile{
				{Name: "newrelic.ini.j2", Dest: "newrelic.ini", Value: strPtr("app_name = fake-ask\n")},
			},
		},
		ServiceAnnotations: map[string]string{"prometheus.io/scrape": "true"},
		Labels:             map[string]string{"tier": "backend"},
	}
}

func findObject(objects []*unstructured.Unstructured, kind, name string) *unstructured.Unstructured {
	for _, o := range objects {
		if o.GetKind() == kind && o.GetName() == name {
			return o
		}
	}
	return nil
}

func toDeployment(g *WithT, u *unstructured.Unstructured) *appsv1.Deployment {
	d := &appsv1.Deployment{}
	g.Expect(apiruntime.DefaultUnstructuredConverter.FromUnstructured(u.Object, d)).To(Succeed())
	return d
}

func TestObjects(t *testing.T) {
	g := NewWithT(t)

	objects, err := Objects(testManifest())
	g.Expect(err).NotTo(HaveOccurred())

	var kinds []string
	for _, o := range objects {
		kinds = append(kinds, o.GetKind()+"/"+o.GetName())
		g.Expect(o.GetNamespace()).To(Equal("apps"))
		g.Expect(o.GetLabels()).To(HaveKeyWithValue(AppLabel, "fake-ask"))
		g.Expect(o.GetLabels()).To(HaveKeyWithValue(TeamLabel, "devops"))
		g.Expect(o.GetLabels()).To(HaveKeyWithValue("tier", "backend"))
		g.Expect(o.Object).NotTo(HaveKey("status"))
	}
	g.Expect(kinds).To(Equal([]string{
		"ServiceAccount/fake-ask",
		"ConfigMap/fake-ask-config",
		"Secret/fake-ask-secrets",
		"Secret/fake-ask-secret-files",
		"Deployment/fake-ask",
		"Service/fake-ask",
	}))

	cm := findObject(objects, "ConfigMap", "fake-ask-config")
	data, _, _ := unstructured.NestedStringMap(cm.Object, "data")
	g.Expect(data).To(Equal(map[string]string{"newrelic.ini": "app_name = fake-ask\n"}))

	secret := findObject(objects, "Secret", "fake-ask-secrets")
	value, _, _ := unstructured.NestedString(secret.Object, "data", "DATABASE_URL")
	g.Expect(value).To(Equal("cG9zdGdyZXM6Ly9kYg=="))

	deploy := toDeployment(g, findObject(objects, "Deployment", "fake-ask"))
	g.Expect(deploy.Annotations).To(HaveKeyWithValue(VersionAnnotation, "1.2.3"))
	g.Expect(*deploy.Spec.Replicas).To(Equal(int32(2)))
	g.Expect(deploy.Spec.Selector.MatchLabels).To(Equal(map[string]string{AppLabel: "fake-ask"}))
	g.Expect(deploy.Spec.Template.Labels).To(HaveKeyWithValue(VersionLabel, "1.2.3"))
	g.Expect(deploy.Spec.Template.Annotations).To(HaveKey(ChecksumAnnotation))

	c := deploy.Spec.Template.Spec.Containers[0]
	g.Expect(c.Image).To(Equal("quay.io/babylonhealth/fake-ask:1.2.3"))
	g.Expect(c.Env).To(HaveLen(2))
	g.Expect(c.Env[0].Name).To(Equal("DATABASE_URL"))
	g.Expect(c.Env[0].ValueFrom.SecretKeyRef.Name).To(Equal("fake-ask-secrets"))
	g.Expect(c.Env[1]).To(Equal(corev1.EnvVar{Name: "LOG_LEVEL", Value: "info"}))
	g.Expect(c.Resources.Limits.Memory().String()).To(Equal("512Mi"))
	g.Expect(c.ReadinessProbe.HTTPGet.Path).To(Equal("/health"))
	g.Expect(c.ReadinessProbe.InitialDelaySeconds).To(Equal(DefaultBootTime))
	g.Expect(c.VolumeMounts).To(ConsistOf(
		corev1.VolumeMount{Name: "config", MountPath: "/config/"},
		corev1.VolumeMount{Name: "secret-files", MountPath: SecretFilesMountPath, ReadOnly: true},
	))

	svc := findObject(objects, "Service", "fake-ask")
	g.Expect(svc.GetAnnotations()).To(HaveKeyWithValue("prometheus.io/scrape", "true"))
	ports, _, _ := unstructured.NestedSlice(svc.Object, "spec", "ports")
	g.Expect(ports).To(HaveLen(1))
	g.Expect(ports[0]).To(HaveKeyWithValue("targetPort", int64(8080)))
}

func TestObjectsHealthWait(t *testing.T) {
	tests := []struct {
		name string
		wait *int32
		want int32
	}{
		{name: "default boot time", want: DefaultBootTime},
		{name: "explicit wait", wait: int32Ptr(90), want: 90},
		{name: "zero wait", wait: int32Ptr(0), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			mf := testManifest()
			mf.Health.Wait = tt.wait
			objects, err := Objects(mf)
			g.Expect(err).NotTo(HaveOccurred())

			deploy := toDeployment(g, findObject(objects, "Deployment", "fake-ask"))
			g.Expect(deploy.Spec.Template.Spec.Containers[0].ReadinessProbe.InitialDelaySeconds).To(Equal(tt.want))
		})
	}
}

func TestObjectsChecksumFollowsSecrets(t *testing.T) {
	g := NewWithT(t)

	checksum := func(mf *manifest.Manifest) string {
		objects, err := Objects(mf)
		g.Expect(err).NotTo(HaveOccurred())
		return toDeployment(g, findObject(objects, "Deployment", "fake-ask")).Spec.Template.Annotations[ChecksumAnnotation]
	}

	mf := testManifest()
	before := checksum(mf)
	g.Expect(checksum(testManifest())).To(Equal(before))

	mf.Secrets["DATABASE_URL"] = "postgres://other"
	g.Expect(checksum(mf)).NotTo(Equal(before))
}

func TestObjectsAutoScaling(t *testing.T) {
	g := NewWithT(t)

	mf := testManifest()
	mf.AutoScaling = &manifest.AutoScaling{MinReplicas: 2, MaxReplicas: 5, TargetCPUUtilizationPercentage: int32Ptr(80)}

	objects, err := Objects(mf)
	g.Expect(err).NotTo(HaveOccurred())

	hpa := findObject(objects, "HorizontalPodAutoscaler", "fake-ask")
	g.Expect(hpa).NotTo(BeNil())
	g.Expect(hpa.GetAPIVersion()).To(Equal("autoscaling/v2"))
	maxReplicas, _, _ := unstructured.NestedInt64(hpa.Object, "spec", "maxReplicas")
	g.Expect(maxReplicas).To(Equal(int64(5)))

	deploy := findObject(objects, "Deployment", "fake-ask")
	_, found, _ := unstructured.NestedFieldNoCopy(deploy.Object, "spec", "replicas")
	g.Expect(found).To(BeFalse())
}

func TestObjectsErrors(t *testing.T) {
	g := NewWithT(t)

	mf := testManifest()
	mf.Version = ""
	_, err := Objects(mf)
	g.Expect(err).To(MatchError(ContainSubstring("version is not set")))

	mf = testManifest()
	mf.Resources.Limits.Memory = "lots"
	_, err = Objects(mf)
	g.Expect(err).To(MatchError(ContainSubstring("resources.limits")))
}

func TestObjectsWorker(t *testing.T) {
	g := NewWithT(t)

	mf := testManifest()
	mf.HTTPPort = nil
	mf.Health = nil
	mf.Configs = nil
	mf.Secrets = nil
	mf.SecretFiles = nil
	mf.Env = map[string]string{"QUEUE": "jobs"}

	objects, err := Objects(mf)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(objects).To(HaveLen(2))
	g.Expect(findObject(objects, "Service", "fake-ask")).To(BeNil())
}

func TestPatch(t *testing.T) {
	g := NewWithT(t)

	root := t.TempDir()
	svcDir := filepath.Join(root, manifest.ServicesDir, "fake-ask")
	g.Expect(os.MkdirAll(svcDir, 0o755)).To(Succeed())

	g.Expect(os.WriteFile(filepath.Join(svcDir, KustomizationFile), []byte(`
apiVersion: kustomize.config.k8s.io/v1beta1
kind: Kustomization
patches:
  - path: tolerations.yaml
  - target:
      kind: Service
    patch: |
      - op: add
        path: /metadata/annotations/patched
        value: "true"
`), 0o644)).To(Succeed())

	g.Expect(os.WriteFile(filepath.Join(svcDir, "tolerations.yaml"), []byte(`
apiVersion: apps/v1
kind: Deployment
metadata:
  name: fake-ask
  namespace: apps
spec:
  template:
    spec:
      tolerations:
        - key: dedicated
          operator: Equal
          value: apps
          effect: NoSchedule
`), 0o644)).To(Succeed())

	objects, err := Objects(testManifest())
	g.Expect(err).NotTo(HaveOccurred())

	patched, err := Patch(root, "fake-ask", objects)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(patched).To(HaveLen(len(objects)))

	deploy := toDeployment(g, findObject(patched, "Deployment", "fake-ask"))
	g.Expect(deploy.Spec.Template.Spec.Tolerations).To(HaveLen(1))
	g.Expect(deploy.Spec.Template.Spec.Containers).To(HaveLen(1))

	svc := findObject(patched, "Service", "fake-ask")
	g.Expect(svc.GetAnnotations()).To(HaveKeyWithValue("patched", "true"))
}

func TestPatchWithoutKustomization(t *testing.T) {
	g := NewWithT(t)

	objects, err := Objects(testManifest())
	g.Expect(err).NotTo(HaveOccurred())

	patched, err := Patch(t.TempDir(), "fake-ask", objects)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(patched).To(Equal(objects))
}

func TestFixReplicasConflict(t *testing.T) {
	g := NewWithT(t)

	mf := testManifest()
	objects, err := Objects(mf)
	g.Expect(err).NotTo(HaveOccurred())

	mf.AutoScaling = &manifest.AutoScaling{MinReplicas: 1, MaxReplicas: 3}
	withHPA, err := Objects(mf)
	g.Expect(err).NotTo(HaveOccurred())

	// a patch could have reintroduced replicas
	deploy := findObject(withHPA, "Deployment", "fake-ask")
	g.Expect(unstructured.SetNestedField(deploy.Object, int64(4), "spec", "replicas")).To(Succeed())

	FixReplicasConflict(withHPA)
	_, found, _ := unstructured.NestedFieldNoCopy(deploy.Object, "spec", "replicas")
	g.Expect(found).To(BeFalse())

	FixReplicasConflict(objects)
	replicas, _, _ := unstructured.NestedInt64(findObject(objects, "Deployment", "fake-ask").Object, "spec", "replicas")
	g.Expect(replicas).To(Equal(int64(2)))
}
