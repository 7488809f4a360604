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

package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/shipcat/shipcat/pkg/config"
)

const tshInstallHelp = `tsh not found, install it from https://gravitational.com/teleport/download/`

// Authenticator logs into the cluster owning a region.
type Authenticator struct {
	Exec Executor

	// Kubeconfig is the file the region context is written to.
	Kubeconfig string

	// Home holds the .tsh state directory.
	Home string
}

// NewAuthenticator returns an authenticator for the default kubeconfig of the current user.
func NewAuthenticator() (*Authenticator, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Authenticator{
		Exec:       NewShellExecutor(nil),
		Kubeconfig: clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename(),
		Home:       home,
	}, nil
}

// Login uses teleport when the owning cluster has a teleport proxy and writes a
// kube context named after the region. Without teleport the context of the
// cluster is expected to exist already and is made current.
func (a *Authenticator) Login(ctx context.Context, conf *config.Config, region *config.Region, force bool) error {
	cluster, ok := conf.FindOwningCluster(region)
	if !ok {
		return fmt.Errorf("region %s does not have a cluster", region.Name)
	}

	if cluster.Teleport == "" {
		return a.useContext(region.Cluster)
	}

	if err := a.Exec.LookPath("tsh"); err != nil {
		return errors.New(tshInstallHelp)
	}

	needsLogin := a.needsTeleportLogin(ctx, cluster.Teleport)
	if force {
		stateFile := filepath.Join(a.Home, ".tsh", cluster.Teleport+".yaml")
		if err := os.Remove(stateFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if needsLogin || force {
		args := []string{
			"login",
			fmt.Sprintf("--proxy=%s:443", cluster.Teleport),
			"--auth=github",
		}
		if _, err := a.Exec.Output(ctx, "tsh", args...); err != nil {
			return fmt.Errorf("tsh login failed, error: %w", err)
		}
	}

	user := cluster.Teleport
	if cluster.ClusterName != "" {
		user = cluster.ClusterName
	}
	if err := a.setContext(region.Name, user, user, region.Namespace); err != nil {
		return err
	}
	return a.useContext(region.Name)
}

// needsTeleportLogin reads the validity of the proxy session from tsh status,
// the expiry is printed five lines below the proxy URL.
func (a *Authenticator) needsTeleportLogin(ctx context.Context, url string) bool {
	out, err := a.Exec.Output(ctx, "tsh", "status")
	if err != nil {
		return true
	}

	lines := strings.Split(out, "\n")
	for i, l := range lines {
		if !strings.Contains(l, url) {
			continue
		}
		if i+5 >= len(lines) {
			return true
		}
		return strings.Contains(lines[i+5], "EXPIRED")
	}
	return true
}

func (a *Authenticator) loadKubeconfig() (*clientcmdapi.Config, error) {
	kc, err := clientcmd.LoadFromFile(a.Kubeconfig)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return clientcmdapi.NewConfig(), nil
		}
		return nil, fmt.Errorf("reading %s failed, error: %w", a.Kubeconfig, err)
	}
	return kc, nil
}

func (a *Authenticator) setContext(name, cluster, user, namespace string) error {
	kc, err := a.loadKubeconfig()
	if err != nil {
		return err
	}

	kctx, ok := kc.Contexts[name]
	if !ok {
		kctx = clientcmdapi.NewContext()
	}
	kctx.Cluster = cluster
	kctx.AuthInfo = user
	kctx.Namespace = namespace
	kc.Contexts[name] = kctx

	return clientcmd.WriteToFile(*kc, a.Kubeconfig)
}

func (a *Authenticator) useContext(name string) error {
	kc, err := a.loadKubeconfig()
	if err != nil {
		return err
	}
	if _, ok := kc.Contexts[name]; !ok {
		return fmt.Errorf("context %s not found in %s", name, a.Kubeconfig)
	}
	kc.CurrentContext = name
	return clientcmd.WriteToFile(*kc, a.Kubeconfig)
}

// CurrentContext returns the current context of the kubeconfig, it is used
// as the default region.
func CurrentContext(kubeconfig string) (string, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	kc, err := rules.Load()
	if err != nil {
		return "", err
	}
	if kc.CurrentContext == "" {
		return "", fmt.Errorf("no current context set in kubeconfig, pass a region with --region")
	}
	return kc.CurrentContext, nil
}
