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

// Package external implements the provisioner against an external driver
// speaking JSON over HTTPS with bearer token auth.  A 2xx is success, a
// 4xx is a permanent rejection carrying a detail message, anything else
// is transient and the reconciler will retry next tick.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/pflag"

	"github.com/eschercloudai/runcorn/pkg/constants"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/provisioners"
)

// Options configures the external driver endpoint.
type Options struct {
	// Endpoint is the base URL of the driver.
	Endpoint string

	// Token authenticates us to the driver.
	Token string

	// RequestTimeout bounds each driver call.
	RequestTimeout time.Duration
}

// AddFlags registers driver flags.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&o.Endpoint, "provisioner-endpoint", "", "Base URL of the external provisioner driver.")
	f.StringVar(&o.Token, "provisioner-token", "", "Bearer token for the external provisioner driver.")
	f.DurationVar(&o.RequestTimeout, "provisioner-request-timeout", 30*time.Second, "Per request timeout for driver calls.")
}

// Provisioner implements the driver contract over HTTP.
type Provisioner struct {
	options *Options
	client  *http.Client
}

var _ provisioners.Provisioner = &Provisioner{}

// New returns a driver client for the configured endpoint.
func New(options *Options) *Provisioner {
	return &Provisioner{
		options: options,
		client: &http.Client{
			Timeout: options.RequestTimeout,
		},
	}
}

type prepareRequest struct {
	Project      string              `json:"project"`
	Version      string              `json:"version"`
	Function     string              `json:"function"`
	DockerImage  string              `json:"dockerImage"`
	ResourceSpec models.ResourceSpec `json:"resourceSpec"`
}

type prepareResponse struct {
	PreparedDetails models.PreparedDetails `json:"preparedDetails"`
}

type provisionRequest struct {
	Project         string                 `json:"project"`
	Version         string                 `json:"version"`
	Function        string                 `json:"function"`
	InvocationID    string                 `json:"invocationId"`
	ExecutionID     string                 `json:"executionId"`
	ResourceSpec    models.ResourceSpec    `json:"resourceSpec"`
	PreparedDetails models.PreparedDetails `json:"preparedDetails"`
}

type provisionResponse struct {
	WorkerDetails models.WorkerDetails `json:"workerDetails"`
}

type terminateRequest struct {
	WorkerDetails models.WorkerDetails `json:"workerDetails"`
}

type checkStatusRequest struct {
	WorkerDetails models.WorkerDetails `json:"workerDetails"`
}

type checkStatusResponse struct {
	Status models.WorkerStatus `json:"status"`
}

type getLogsRequest struct {
	WorkerDetails models.WorkerDetails `json:"workerDetails"`
	MaxLines      int                  `json:"maxLines"`
	Offset        *string              `json:"offset,omitempty"`
}

type getLogsResponse struct {
	Lines      []string `json:"lines"`
	NextOffset *string  `json:"nextOffset,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// post marshals the request, performs the call and unmarshals a 2xx
// response into out.
func (p *Provisioner) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.options.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+p.options.Token)
	request.Header.Set("User-Agent", constants.VersionString())

	response, err := p.client.Do(request)
	if err != nil {
		return err
	}

	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		driverError := &provisioners.DriverError{
			Status: response.StatusCode,
			Detail: fmt.Sprintf("status %d", response.StatusCode),
		}

		var detail errorResponse

		if err := json.Unmarshal(responseBody, &detail); err == nil && detail.Detail != "" {
			driverError.Detail = detail.Detail
		}

		return driverError
	}

	if out == nil {
		return nil
	}

	return json.Unmarshal(responseBody, out)
}

func (p *Provisioner) PrepareFunction(ctx context.Context, request *provisioners.PrepareFunctionRequest) (*models.PreparedDetails, error) {
	in := &prepareRequest{
		Project:      request.Project,
		Version:      request.Version,
		Function:     request.Function,
		DockerImage:  request.DockerImage,
		ResourceSpec: request.Resources,
	}

	var out prepareResponse

	if err := p.post(ctx, "/prepare", in, &out); err != nil {
		return nil, err
	}

	return &out.PreparedDetails, nil
}

func (p *Provisioner) ProvisionWorker(ctx context.Context, request *provisioners.ProvisionWorkerRequest) (*models.WorkerDetails, error) {
	in := &provisionRequest{
		Project:         request.Project,
		Version:         request.Version,
		Function:        request.Function,
		InvocationID:    request.InvocationID,
		ExecutionID:     request.ExecutionID,
		ResourceSpec:    request.Resources,
		PreparedDetails: request.Prepared,
	}

	var out provisionResponse

	if err := p.post(ctx, "/provision", in, &out); err != nil {
		return nil, err
	}

	return &out.WorkerDetails, nil
}

func (p *Provisioner) SendTerminationSignal(ctx context.Context, details *models.WorkerDetails) error {
	return p.post(ctx, "/terminate", &terminateRequest{WorkerDetails: *details}, nil)
}

func (p *Provisioner) CheckWorkerStatus(ctx context.Context, details *models.WorkerDetails) (models.WorkerStatus, error) {
	var out checkStatusResponse

	if err := p.post(ctx, "/check_status", &checkStatusRequest{WorkerDetails: *details}, &out); err != nil {
		return "", err
	}

	return out.Status, nil
}

func (p *Provisioner) GetWorkerLogs(ctx context.Context, request *provisioners.GetWorkerLogsRequest) (*provisioners.WorkerLogs, error) {
	in := &getLogsRequest{
		WorkerDetails: request.Details,
		MaxLines:      request.MaxLines,
		Offset:        request.Offset,
	}

	var out getLogsResponse

	if err := p.post(ctx, "/get_logs", in, &out); err != nil {
		return nil, err
	}

	return &provisioners.WorkerLogs{
		Lines:      out.Lines,
		NextOffset: out.NextOffset,
	}, nil
}
