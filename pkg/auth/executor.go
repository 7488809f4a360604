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
	"fmt"
	"os/exec"
	"strings"
)

// Executor runs external binaries.
type Executor interface {
	// LookPath reports an error when the binary is not on PATH.
	LookPath(name string) error

	// Output runs the binary and returns its stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// ShellExecutor shells out to run commands.
type ShellExecutor struct {
	envVars []string
}

// NewShellExecutor creates an executor, the given env vars replace the
// environment of the commands when set.
func NewShellExecutor(envVars []string) ShellExecutor {
	return ShellExecutor{envVars: envVars}
}

func (e ShellExecutor) LookPath(name string) error {
	_, err := exec.LookPath(name)
	return err
}

func (e ShellExecutor) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(e.envVars) > 0 {
		cmd.Env = e.envVars
	}

	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSuffix(string(output), "\n"), nil
}
