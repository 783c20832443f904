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

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	runcornerrors "github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/server/errors"
)

// getHTTPAuthenticationScheme grabs the scheme and token from the HTTP
// Authorization header.
func getHTTPAuthenticationScheme(r *http.Request) (string, string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}

	return parts[0], parts[1], true
}

// Authorizer checks the shared API key on every request.  The platform
// is single tenant; callers either hold the key or they don't.
type Authorizer struct {
	token string
}

// NewAuthorizer returns an authorizer for the given API key.
func NewAuthorizer(token string) *Authorizer {
	return &Authorizer{
		token: token,
	}
}

// Middleware rejects requests without a valid bearer token.
func (a *Authorizer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := getHTTPAuthenticationScheme(r)
		if !ok || !strings.EqualFold(scheme, "bearer") {
			errors.HandleError(w, r, runcornerrors.APIKeyIsInvalid())

			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			errors.HandleError(w, r, runcornerrors.APIKeyIsInvalid())

			return
		}

		next.ServeHTTP(w, r)
	})
}
