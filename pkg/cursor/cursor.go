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

// Package cursor encodes list pagination offsets.  A cursor names the
// last row of the previous page by (creation time, id), matching the
// (creation_time desc, id) ordering of the list queries; the encoding is
// opaque to clients.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/eschercloudai/runcorn/pkg/errors"
)

// Cursor names the last row returned by the previous page.
type Cursor struct {
	CreationTime time.Time `json:"creationTime"`
	ID           string    `json:"id"`
}

// Encode returns the opaque form of the cursor.
func Encode(c Cursor) string {
	body, err := json.Marshal(c)
	if err != nil {
		// Cursors only contain a time and a string, marshalling them
		// cannot fail.
		panic(err)
	}

	return base64.RawURLEncoding.EncodeToString(body)
}

// Decode parses an opaque cursor, raising OffsetIsInvalid on garbage.
func Decode(in string) (Cursor, error) {
	var c Cursor

	body, err := base64.RawURLEncoding.DecodeString(in)
	if err != nil {
		return c, errors.OffsetIsInvalid(in)
	}

	if err := json.Unmarshal(body, &c); err != nil {
		return c, errors.OffsetIsInvalid(in)
	}

	if c.ID == "" || c.CreationTime.IsZero() {
		return c, errors.OffsetIsInvalid(in)
	}

	return c, nil
}
