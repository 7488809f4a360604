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
	"fmt"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/duration"
)

// ManifestStatus is the status subresource of a ShipcatManifest.
type ManifestStatus struct {
	Conditions Conditions `json:"conditions,omitempty"`
	Summary    *Summary   `json:"summary,omitempty"`
}

// Conditions records the outcome of each stage of the last apply.
type Conditions struct {
	Generated *Condition `json:"generated,omitempty"`
	Applied   *Condition `json:"applied,omitempty"`
	RolledOut *Condition `json:"rolledout,omitempty"`
}

type Condition struct {
	Status         bool        `json:"status"`
	Source         *Applier    `json:"source,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Message        string      `json:"message,omitempty"`
	LastTransition metav1.Time `json:"lastTransition"`
}

// Summary holds the timestamps of the last actions.
type Summary struct {
	LastAction                   string       `json:"lastAction,omitempty"`
	LastApply                    *metav1.Time `json:"lastApply,omitempty"`
	LastSuccessfulApply          *metav1.Time `json:"lastSuccessfulApply,omitempty"`
	LastApplyReason              string       `json:"lastApplyReason,omitempty"`
	LastFailureReason            string       `json:"lastFailureReason,omitempty"`
	LastRollout                  *metav1.Time `json:"lastRollout,omitempty"`
	LastSuccessfulRollout        *metav1.Time `json:"lastSuccessfulRollout,omitempty"`
	LastSuccessfulRolloutVersion string       `json:"lastSuccessfulRolloutVersion,omitempty"`
	LastSuccessfulGenerate       *metav1.Time `json:"lastSuccessfulGenerate,omitempty"`
}

// Applier is the user or the CI job running shipcat.
type Applier struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// InferApplier detects the CI job from the environment, falling back to the local user.
func InferApplier(getenv func(string) string) Applier {
	if url, job := getenv("BUILD_URL"), getenv("JOB_NAME"); url != "" && job != "" {
		return Applier{Name: job, URL: url}
	}
	if repo, run := getenv("GITHUB_REPOSITORY"), getenv("GITHUB_RUN_ID"); repo != "" && run != "" {
		server := getenv("GITHUB_SERVER_URL")
		if server == "" {
			server = "https://github.com"
		}
		name := getenv("GITHUB_WORKFLOW")
		if name == "" {
			name = repo
		}
		return Applier{Name: name, URL: fmt.Sprintf("%s/%s/actions/runs/%s", server, repo, run)}
	}
	if url, job := getenv("CIRCLE_BUILD_URL"), getenv("CIRCLE_JOB"); url != "" && job != "" {
		return Applier{Name: job, URL: url}
	}
	if user := getenv("USER"); user != "" {
		return Applier{Name: user}
	}
	return Applier{Name: "unknown"}
}

// Hyperlink renders text as an OSC-8 terminal hyperlink.
func Hyperlink(text, url string) string {
	return fmt.Sprintf("\x1b]8;;%s\x07%s\x1b]8;;\x07", url, text)
}

// FormatCondition renders a condition as '<age> ago via <source> (<outcome>)'.
func FormatCondition(cond *Condition, now time.Time) string {
	var b strings.Builder
	if !cond.LastTransition.IsZero() {
		fmt.Fprintf(&b, "%s ago", duration.HumanDuration(now.Sub(cond.LastTransition.Time)))
	}

	if src := cond.Source; src != nil {
		via := src.Name
		if src.URL != "" {
			via = Hyperlink(src.Name, src.URL)
		}
		fmt.Fprintf(&b, " via %s", via)
	}

	switch {
	case cond.Status:
		b.WriteString(" (Success)")
	case cond.Reason != "" && cond.Message != "":
		fmt.Fprintf(&b, " (%s: %s)", cond.Reason, cond.Message)
	default:
		b.WriteString(" (Failure)")
	}
	return b.String()
}
