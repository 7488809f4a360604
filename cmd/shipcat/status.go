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
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/duration"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/shipcat/shipcat/pkg/config"
	"github.com/shipcat/shipcat/pkg/crd"
	"github.com/shipcat/shipcat/pkg/generate"
	"github.com/shipcat/shipcat/pkg/manifest"
)

var statusCmd = &cobra.Command{
	Use:   "status [service]",
	Short: "Status prints the deployed version, the conditions of the last apply and the pods of a service.",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatusCmd,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	svc := args[0]

	conf, region, err := loadConfigAndRegion()
	if err != nil {
		return err
	}

	mf, err := manifest.Load(rootArgs.root, svc, conf, region)
	if err != nil {
		return err
	}

	deployer, err := newDeployer(conf)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	sm, err := deployer.CRD(mf.Name, mf.Namespace).Get(ctx)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("%s is not deployed in %s", svc, region.Name)
		}
		return err
	}

	kubeClient, err := newKubeClient(kubeconfigArgs)
	if err != nil {
		return err
	}

	pods := &corev1.PodList{}
	if err := kubeClient.List(ctx, pods, client.InNamespace(mf.Namespace), client.MatchingLabels{generate.AppLabel: mf.Name}); err != nil {
		return fmt.Errorf("listing pods failed, error: %w", err)
	}

	out := cmd.OutOrStdout()
	printStatus(out, conf, mf, sm, time.Now())
	fmt.Fprintln(out, "==> RESOURCES")
	printTable(out, []string{"name", "ready", "status", "restarts", "age"}, podRows(pods.Items, time.Now()))
	return nil
}

func printStatus(w io.Writer, conf *config.Config, mf *manifest.Manifest, sm *crd.ShipcatManifest, now time.Time) {
	version := sm.Spec.Version
	if version == "" {
		version = mf.Version
	}

	title := strings.ToUpper(mf.Name)
	termVersion := version
	var support string
	if md := mf.Metadata; md != nil {
		title = crd.Hyperlink(title, md.Repo)
		termVersion = crd.Hyperlink(version, md.GithubLinkForVersion(version))
		support = md.Support
		if support == "" {
			if team, ok := conf.FindTeam(md.Team); ok {
				support = team.Support
			}
		}
	}

	status := sm.Status
	switch {
	case status != nil && status.Summary != nil && status.Summary.LastSuccessfulRolloutVersion != "":
		if used := status.Summary.LastSuccessfulRolloutVersion; used != version {
			fmt.Fprintf(w, "==> %s is requesting %s but last successful deploy used %s\n", title, termVersion, used)
		} else {
			fmt.Fprintf(w, "==> %s is running %s\n", title, termVersion)
		}
	default:
		fmt.Fprintf(w, "==> %s is requesting %s\n", title, termVersion)
	}
	if support != "" {
		fmt.Fprintln(w, crd.Hyperlink(support, conf.Slack.Link(support)))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "==> CONDITIONS")
	if status != nil {
		conds := status.Conditions
		if conds.Generated != nil {
			fmt.Fprintln(w, "Generated", crd.FormatCondition(conds.Generated, now))
		}
		if conds.Applied != nil {
			fmt.Fprintln(w, "Applied", crd.FormatCondition(conds.Applied, now))
		}
		if conds.RolledOut != nil {
			fmt.Fprintln(w, "RolledOut", crd.FormatCondition(conds.RolledOut, now))
		}
	}
	fmt.Fprintln(w)
}

func podRows(pods []corev1.Pod, now time.Time) [][]string {
	var rows [][]string
	for _, pod := range pods {
		var ready, restarts int32
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Ready {
				ready++
			}
			restarts += cs.RestartCount
		}

		age := "<unknown>"
		if !pod.CreationTimestamp.IsZero() {
			age = duration.HumanDuration(now.Sub(pod.CreationTimestamp.Time))
		}

		rows = append(rows, []string{
			pod.Name,
			fmt.Sprintf("%d/%d", ready, len(pod.Spec.Containers)),
			podPhase(pod),
			fmt.Sprintf("%d", restarts),
			age,
		})
	}
	return rows
}

// podPhase prefers the reason of a waiting or terminated container over the pod phase.
func podPhase(pod corev1.Pod) string {
	if pod.DeletionTimestamp != nil {
		return "Terminating"
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if w := cs.State.Waiting; w != nil && w.Reason != "" {
			return w.Reason
		}
		if t := cs.State.Terminated; t != nil && t.Reason != "" {
			return t.Reason
		}
	}
	if pod.Status.Reason != "" {
		return pod.Status.Reason
	}
	return string(pod.Status.Phase)
}
