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

package provisioners

import (
	"errors"
	"fmt"
)

var (
	// ErrPermanent is raised when the driver says the request can never
	// succeed, e.g. a 4xx from the external driver.  Retrying it next
	// tick is still harmless, just futile.
	ErrPermanent = errors.New("permanent provisioner error")

	// ErrUnknownWorker is raised when asked about a worker the driver
	// has no record of.
	ErrUnknownWorker = errors.New("unknown worker")
)

// DriverError carries the detail reported by a driver rejection.
type DriverError struct {
	// Status is the HTTP status for the external driver, zero otherwise.
	Status int

	// Detail is the driver supplied message.
	Detail string
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("provisioner driver rejected the request: %s", e.Detail)
}

// Unwrap marks 4xx rejections permanent.
func (e *DriverError) Unwrap() error {
	if e.Status >= 400 && e.Status < 500 {
		return ErrPermanent
	}

	return nil
}
