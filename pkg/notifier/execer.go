/*
   Copyright 2020 Docker Volume Watcher authors

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

package notifier

import (
	"bytes"
	"context"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
)

// ExecResult is the outcome of one command run inside a container.
type ExecResult struct {
	ExitCode int
	Output   []byte
}

// Execer runs a command inside a container. A returned error reports a
// transport-level failure (daemon unreachable, protocol error); a
// command that ran but failed is reported through ExitCode instead.
type Execer interface {
	Exec(ctx context.Context, containerID string, cmd []string, privileged bool) (ExecResult, error)
}

type dockerExecer struct {
	apiClient client.APIClient
}

// NewDockerExecer returns an Execer backed by the docker API client.
func NewDockerExecer(apiClient client.APIClient) Execer {
	return &dockerExecer{apiClient: apiClient}
}

func (e *dockerExecer) Exec(ctx context.Context, containerID string, cmd []string, privileged bool) (ExecResult, error) {
	exec, err := e.apiClient.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		Privileged:   privileged,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, errors.Wrapf(err, "exec create %v", cmd)
	}

	resp, err := e.apiClient.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, errors.Wrapf(err, "exec attach %v", cmd)
	}
	defer resp.Close()

	// stdout and stderr multiplexed into one capture, matching what a
	// plain `docker exec` shows
	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, resp.Reader); err != nil {
		return ExecResult{}, errors.Wrapf(err, "exec read output %v", cmd)
	}

	inspect, err := e.apiClient.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return ExecResult{}, errors.Wrapf(err, "exec inspect %v", cmd)
	}

	return ExecResult{ExitCode: inspect.ExitCode, Output: output.Bytes()}, nil
}
