/*
Copyright 2022-2024 EscherCloud.

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

package constants

import (
	"fmt"
	"os"
	"path"
)

var (
	// Application is the application name.
	//nolint:gochecknoglobals
	Application = path.Base(os.Args[0])

	// Version is the application version set via the Makefile.
	//nolint:gochecknoglobals
	Version string

	// Revision is the git revision set via the Makefile.
	//nolint:gochecknoglobals
	Revision string
)

// VersionString returns a canonical version string.  It's based on
// HTTP's User-Agent so can be used to set that too when calling out
// to the external provisioner driver.
func VersionString() string {
	return fmt.Sprintf("%s/%s (revision/%s)", Application, Version, Revision)
}

const (
	// VersionLatest is the reserved version reference that resolves to
	// the most recently created version of a project.
	VersionLatest = "latest"

	// VersionPrefix prefixes minted version identifiers.
	VersionPrefix = "ver"

	// InvocationPrefix prefixes minted invocation identifiers.
	InvocationPrefix = "inv"

	// ExecutionPrefix prefixes minted execution identifiers.
	ExecutionPrefix = "exe"

	// MaxProjectNameLength bounds project names so they can double as
	// infrastructure labels on the provisioner side.
	MaxProjectNameLength = 63

	// MaxPageSize caps list endpoint page sizes.
	MaxPageSize = 50
)
