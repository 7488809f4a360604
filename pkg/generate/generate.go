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
	"crypto/sha256"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	apiruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/shipcat/shipcat/pkg/manifest"
)

const (
	AppLabel       = "app"
	NameLabel      = "app.kubernetes.io/name"
	VersionLabel   = "app.kubernetes.io/version"
	ManagedByLabel = "app.kubernetes.io/managed-by"
	TeamLabel      = "shipcat.babylontech.co.uk/team"

	VersionAnnotation  = "shipcat.babylontech.co.uk/version"
	ChecksumAnnotation = "shipcat.babylontech.co.uk/checksum"

	ManagedBy = "shipcat"

	// SecretFilesMountPath is where the secret files are mounted in the containers.
	SecretFilesMountPath = "/secrets"

	// DefaultBootTime is the readiness probe delay when the health check sets no wait.
	DefaultBootTime int32 = 30

	httpPortName = "http"
)

// Objects generates the Kubernetes objects of a service from its completed manifest.
// Secrets and config templates must be resolved before calling it.
func Objects(mf *manifest.Manifest) ([]*unstructured.Unstructured, error) {
	if mf.Version == "" {
		return nil, fmt.Errorf("version is not set for %s", mf.Name)
	}
	if mf.Namespace == "" {
		return nil, fmt.Errorf("namespace is not set for %s", mf.Name)
	}

	g := &generator{mf: mf}

	typed := []apiruntime.Object{g.serviceAccount()}
	if cm := g.configMap(); cm != nil {
		typed = append(typed, cm)
	}
	if s := g.envSecret(); s != nil {
		typed = append(typed, s)
	}
	if s := g.filesSecret(); s != nil {
		typed = append(typed, s)
	}

	deploy, err := g.deployment()
	if err != nil {
		return nil, err
	}
	typed = append(typed, deploy)

	if svc := g.service(); svc != nil {
		typed = append(typed, svc)
	}
	if hpa := g.hpa(); hpa != nil {
		typed = append(typed, hpa)
	}

	objects := make([]*unstructured.Unstructured, 0, len(typed))
	for _, obj := range typed {
		u, err := toUnstructured(obj)
		if err != nil {
			return nil, err
		}
		objects = append(objects, u)
	}
	return objects, nil
}

// ConfigMapName returns the name of the ConfigMap holding the config files.
func ConfigMapName(mf *manifest.Manifest) string {
	if mf.Configs != nil && mf.Configs.Name != "" {
		return mf.Configs.Name
	}
	return mf.Name + "-config"
}

func SecretName(svc string) string {
	return svc + "-secrets"
}

func SecretFilesName(svc string) string {
	return svc + "-secret-files"
}

type generator struct {
	mf *manifest.Manifest
}

func (g *generator) labels() map[string]string {
	labels := map[string]string{}
	for k, v := range g.mf.Labels {
		labels[k] = v
	}
	labels[AppLabel] = g.mf.Name
	labels[NameLabel] = g.mf.Name
	labels[ManagedByLabel] = ManagedBy
	if g.mf.Metadata != nil && g.mf.Metadata.Team != "" {
		labels[TeamLabel] = g.mf.Metadata.Team
	}
	return labels
}

func (g *generator) meta(name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      name,
		Namespace: g.mf.Namespace,
		Labels:    g.labels(),
	}
}

func (g *generator) serviceAccount() *corev1.ServiceAccount {
	return &corev1.ServiceAccount{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ServiceAccount"},
		ObjectMeta: g.meta(g.mf.Name),
	}
}

func (g *generator) configMap() *corev1.ConfigMap {
	if g.mf.Configs == nil || len(g.mf.Configs.Files) == 0 {
		return nil
	}
	data := make(map[string]string, len(g.mf.Configs.Files))
	for _, f := range g.mf.Configs.Files {
		if f.Value != nil {
			data[f.Dest] = *f.Value
		}
	}
	return &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: g.meta(ConfigMapName(g.mf)),
		Data:       data,
	}
}

func (g *generator) envSecret() *corev1.Secret {
	if len(g.mf.Secrets) == 0 {
		return nil
	}
	return g.secret(SecretName(g.mf.Name), g.mf.Secrets)
}

func (g *generator) filesSecret() *corev1.Secret {
	if len(g.mf.SecretFiles) == 0 {
		return nil
	}
	return g.secret(SecretFilesName(g.mf.Name), g.mf.SecretFiles)
}

func (g *generator) secret(name string, values map[string]string) *corev1.Secret {
	data := make(map[string][]byte, len(values))
	for k, v := range values {
		data[k] = []byte(v)
	}
	return &corev1.Secret{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Secret"},
		ObjectMeta: g.meta(name),
		Type:       corev1.SecretTypeOpaque,
		Data:       data,
	}
}

func (g *generator) env() []corev1.EnvVar {
	keys := make([]string, 0, len(g.mf.Env))
	for k := range g.mf.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		if g.mf.Env[k] != manifest.SecretMarker {
			env = append(env, corev1.EnvVar{Name: k, Value: g.mf.Env[k]})
			continue
		}
		env = append(env, corev1.EnvVar{
			Name: k,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: SecretName(g.mf.Name)},
					Key:                  k,
				},
			},
		})
	}
	return env
}

func (g *generator) resources() (corev1.ResourceRequirements, error) {
	req := corev1.ResourceRequirements{}
	if g.mf.Resources == nil {
		return req, nil
	}

	var err error
	if req.Requests, err = resourceList(g.mf.Resources.Requests); err != nil {
		return req, fmt.Errorf("resources.requests: %w", err)
	}
	if req.Limits, err = resourceList(g.mf.Resources.Limits); err != nil {
		return req, fmt.Errorf("resources.limits: %w", err)
	}
	return req, nil
}

func resourceList(rl manifest.ResourceList) (corev1.ResourceList, error) {
	list := corev1.ResourceList{}
	for name, value := range map[corev1.ResourceName]string{
		corev1.ResourceCPU:    rl.CPU,
		corev1.ResourceMemory: rl.Memory,
	} {
		if value == "" {
			continue
		}
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", name, value, err)
		}
		list[name] = q
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

func (g *generator) containerPorts() []corev1.ContainerPort {
	var ports []corev1.ContainerPort
	if g.mf.HTTPPort != nil {
		ports = append(ports, corev1.ContainerPort{
			Name:          httpPortName,
			ContainerPort: *g.mf.HTTPPort,
			Protocol:      corev1.ProtocolTCP,
		})
	}
	for _, p := range g.mf.Ports {
		target := p.Port
		if p.TargetPort != nil {
			target = *p.TargetPort
		}
		ports = append(ports, corev1.ContainerPort{
			Name:          p.Name,
			ContainerPort: target,
			Protocol:      protocol(p.Protocol),
		})
	}
	return ports
}

func protocol(p corev1.Protocol) corev1.Protocol {
	if p == "" {
		return corev1.ProtocolTCP
	}
	return p
}

func (g *generator) readinessProbe() *corev1.Probe {
	if g.mf.ReadinessProbe != nil {
		return g.mf.ReadinessProbe.DeepCopy()
	}
	if g.mf.Health == nil || g.mf.HTTPPort == nil {
		return nil
	}

	wait := DefaultBootTime
	if g.mf.Health.Wait != nil {
		wait = *g.mf.Health.Wait
	}
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{
				Path: g.mf.Health.URI,
				Port: intstr.FromString(httpPortName),
			},
		},
		InitialDelaySeconds: wait,
		PeriodSeconds:       5,
		TimeoutSeconds:      1,
		SuccessThreshold:    1,
		FailureThreshold:    3,
	}
}

func (g *generator) volumes() ([]corev1.Volume, []corev1.VolumeMount) {
	var volumes []corev1.Volume
	var mounts []corev1.VolumeMount

	if cm := g.mf.Configs; cm != nil && len(cm.Files) > 0 {
		items := make([]corev1.KeyToPath, 0, len(cm.Files))
		for _, f := range cm.Files {
			items = append(items, corev1.KeyToPath{Key: f.Dest, Path: f.Dest})
		}
		volumes = append(volumes, corev1.Volume{
			Name: "config",
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: ConfigMapName(g.mf)},
					Items:                items,
				},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "config", MountPath: cm.MountPath})
	}

	if len(g.mf.SecretFiles) > 0 {
		volumes = append(volumes, corev1.Volume{
			Name: "secret-files",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: SecretFilesName(g.mf.Name)},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "secret-files", MountPath: SecretFilesMountPath, ReadOnly: true})
	}

	return volumes, mounts
}

// checksum changes whenever the mounted config or the secrets change, rolling the pods.
func (g *generator) checksum() string {
	h := sha256.New()
	if g.mf.Configs != nil {
		for _, f := range g.mf.Configs.Files {
			if f.Value != nil {
				fmt.Fprintf(h, "%s=%s\n", f.Dest, *f.Value)
			}
		}
	}
	for _, values := range []map[string]string{g.mf.Secrets, g.mf.SecretFiles} {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%s\n", k, values[k])
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (g *generator) deployment() (*appsv1.Deployment, error) {
	resources, err := g.resources()
	if err != nil {
		return nil, err
	}
	volumes, mounts := g.volumes()

	podLabels := g.labels()
	podLabels[VersionLabel] = g.mf.Version

	podAnnotations := map[string]string{}
	for k, v := range g.mf.PodAnnotations {
		podAnnotations[k] = v
	}
	podAnnotations[ChecksumAnnotation] = g.checksum()

	meta := g.meta(g.mf.Name)
	meta.Annotations = map[string]string{VersionAnnotation: g.mf.Version}

	var replicas *int32
	if g.mf.AutoScaling == nil && g.mf.ReplicaCount != nil {
		r := *g.mf.ReplicaCount
		replicas = &r
	}

	var liveness *corev1.Probe
	if g.mf.LivenessProbe != nil {
		liveness = g.mf.LivenessProbe.DeepCopy()
	}

	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: meta,
		Spec: appsv1.DeploymentSpec{
			Replicas: replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{AppLabel: g.mf.Name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      podLabels,
					Annotations: podAnnotations,
				},
				Spec: corev1.PodSpec{
					ServiceAccountName: g.mf.Name,
					Volumes:            volumes,
					Containers: []corev1.Container{
						{
							Name:            g.mf.Name,
							Image:           fmt.Sprintf("%s:%s", g.mf.Image, g.mf.Version),
							ImagePullPolicy: corev1.PullIfNotPresent,
							Command:         g.mf.Command,
							Env:             g.env(),
							Ports:           g.containerPorts(),
							Resources:       resources,
							ReadinessProbe:  g.readinessProbe(),
							LivenessProbe:   liveness,
							VolumeMounts:    mounts,
						},
					},
				},
			},
		},
	}, nil
}

func (g *generator) service() *corev1.Service {
	var ports []corev1.ServicePort
	if g.mf.HTTPPort != nil {
		ports = append(ports, corev1.ServicePort{
			Name:       httpPortName,
			Port:       80,
			TargetPort: intstr.FromInt(int(*g.mf.HTTPPort)),
			Protocol:   corev1.ProtocolTCP,
		})
	}
	for _, p := range g.mf.Ports {
		target := p.Port
		if p.TargetPort != nil {
			target = *p.TargetPort
		}
		ports = append(ports, corev1.ServicePort{
			Name:       p.Name,
			Port:       p.Port,
			TargetPort: intstr.FromInt(int(target)),
			Protocol:   protocol(p.Protocol),
		})
	}
	if len(ports) == 0 {
		return nil
	}

	meta := g.meta(g.mf.Name)
	if len(g.mf.ServiceAnnotations) > 0 {
		meta.Annotations = map[string]string{}
		for k, v := range g.mf.ServiceAnnotations {
			meta.Annotations[k] = v
		}
	}

	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: meta,
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{AppLabel: g.mf.Name},
			Ports:    ports,
		},
	}
}

func (g *generator) hpa() *autoscalingv2.HorizontalPodAutoscaler {
	as := g.mf.AutoScaling
	if as == nil {
		return nil
	}

	minReplicas := as.MinReplicas
	var metrics []autoscalingv2.MetricSpec
	if as.TargetCPUUtilizationPercentage != nil {
		target := *as.TargetCPUUtilizationPercentage
		metrics = append(metrics, autoscalingv2.MetricSpec{
			Type: autoscalingv2.ResourceMetricSourceType,
			Resource: &autoscalingv2.ResourceMetricSource{
				Name: corev1.ResourceCPU,
				Target: autoscalingv2.MetricTarget{
					Type:               autoscalingv2.UtilizationMetricType,
					AverageUtilization: &target,
				},
			},
		})
	}

	return &autoscalingv2.HorizontalPodAutoscaler{
		TypeMeta:   metav1.TypeMeta{APIVersion: "autoscaling/v2", Kind: "HorizontalPodAutoscaler"},
		ObjectMeta: g.meta(g.mf.Name),
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{
				APIVersion: "apps/v1",
				Kind:       "Deployment",
				Name:       g.mf.Name,
			},
			MinReplicas: &minReplicas,
			MaxReplicas: as.MaxReplicas,
			Metrics:     metrics,
		},
	}
}

func toUnstructured(obj apiruntime.Object) (*unstructured.Unstructured, error) {
	content, err := apiruntime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, fmt.Errorf("converting %T failed, error: %w", obj, err)
	}
	u := &unstructured.Unstructured{Object: content}

	// typed objects carry empty server side fields that would show as drift
	unstructured.RemoveNestedField(u.Object, "status")
	unstructured.RemoveNestedField(u.Object, "metadata", "creationTimestamp")
	unstructured.RemoveNestedField(u.Object, "spec", "template", "metadata", "creationTimestamp")
	return u, nil
}
