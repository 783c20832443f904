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

// Package identifier mints prefixed unique identifiers for versions,
// invocations and executions.
package identifier

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// New returns a "<prefix>-<hex>" identifier.  The random component is a
// v4 UUID, which carries 122 bits of entropy.
func New(prefix string) string {
	id := uuid.New()

	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(id[:]))
}
