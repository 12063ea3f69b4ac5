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

package api

import (
	"github.com/pkg/errors"
)

var (
	// ErrCommandFailed is returned when a command run inside a container
	// exited with a non-zero code
	ErrCommandFailed = errors.New("command failed")
	// ErrTransportFailed is returned when the container exec mechanism
	// itself failed, as opposed to the command it was carrying
	ErrTransportFailed = errors.New("transport failed")
)

// IsCommandFailed returns true if the unwrapped error is ErrCommandFailed
func IsCommandFailed(err error) bool {
	return errors.Is(err, ErrCommandFailed)
}

// IsTransportFailed returns true if the unwrapped error is ErrTransportFailed
func IsTransportFailed(err error) bool {
	return errors.Is(err, ErrTransportFailed)
}
