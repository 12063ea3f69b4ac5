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
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/docker/volume-watcher/pkg/api"
)

// notify pokes the container about a change in containerPath by
// reading the file's permission bits and writing them straight back.
// The rewrite is a no-op on the mode but bumps the file's metadata, so
// stat-based reload checks inside the container (interpreter autoreload
// and friends) see the change the bind mount already delivered.
//
// Failures are terminal to this invocation: logged, classified, never
// retried and never propagated to the watcher.
func (n *ContainerNotifier) notify(ctx context.Context, containerPath string) {
	logrus.Infof("Notifying container %s about change in %s", n.binding.Container.Name, containerPath)

	output, err := n.transact(ctx, containerPath)
	switch {
	case err == nil:
		if out := strings.TrimSpace(string(output)); out != "" {
			logrus.Info(out)
		}
	case api.IsCommandFailed(err):
		logrus.Errorf("Exec run returned non-zero exit code: %v", err)
	default:
		logrus.Errorf("Failed to notify container %s about change in %s: %+v",
			n.binding.Container.Name, containerPath, err)
	}
}

// transact runs the two-step stat/chmod exchange and returns the final
// command's output. A non-zero exit from either step aborts with
// api.ErrCommandFailed; a transport error aborts with
// api.ErrTransportFailed wrapped around the cause.
func (n *ContainerNotifier) transact(ctx context.Context, containerPath string) ([]byte, error) {
	res, err := n.execer.Exec(ctx, n.binding.Container.ID, []string{"stat", "-c", "%a", containerPath}, true)
	if err != nil {
		return nil, errors.Wrapf(api.ErrTransportFailed, "stat %s: %v", containerPath, err)
	}
	if res.ExitCode != 0 {
		return nil, errors.Wrapf(api.ErrCommandFailed, "stat %s: exit code %d", containerPath, res.ExitCode)
	}

	mode := strings.TrimSpace(string(res.Output))

	res, err = n.execer.Exec(ctx, n.binding.Container.ID, []string{"chmod", mode, containerPath}, true)
	if err != nil {
		return nil, errors.Wrapf(api.ErrTransportFailed, "chmod %s: %v", containerPath, err)
	}
	if res.ExitCode != 0 {
		return nil, errors.Wrapf(api.ErrCommandFailed, "chmod %s: exit code %d", containerPath, res.ExitCode)
	}

	return res.Output, nil
}
