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

package handler

import (
	"github.com/samber/lo"

	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/server/api"
)

func convertProject(in *models.Project) api.Project {
	return api.Project{
		Name:                in.Name,
		CreationTime:        in.CreationTime,
		DeletionRequestTime: in.DeletionRequestTime,
	}
}

func convertVersion(in *models.Version) api.Version {
	return api.Version{
		ID:           in.ID,
		CreationTime: in.CreationTime,
	}
}

func convertFunction(in *models.Function) api.Function {
	return api.Function{
		Name:           in.Name,
		DockerImage:    in.DockerImage,
		VirtualCPUs:    in.Resources.VirtualCPUs,
		MemoryGBs:      in.Resources.MemoryGBs,
		MaxConcurrency: in.Resources.MaxConcurrency,
		MaxRetries:     in.Execution.MaxRetries,
		TimeoutSeconds: in.Execution.TimeoutSeconds,
		Status:         string(in.Status),
		CreationTime:   in.CreationTime,
	}
}

func convertParent(in *models.ParentReference) *api.ParentReference {
	if in == nil {
		return nil
	}

	return &api.ParentReference{
		FunctionName: in.FunctionName,
		InvocationID: in.InvocationID,
	}
}

func convertExecution(in *models.Execution) api.Execution {
	return api.Execution{
		ID:                    in.ID,
		InvocationID:          in.InvocationID,
		WorkerStatus:          string(in.WorkerStatus),
		TerminationSignalTime: in.TerminationSignalTime,
		Outcome:               (*string)(in.Outcome),
		Output:                in.Output,
		ErrorMessage:          in.ErrorMessage,
		CreationTime:          in.CreationTime,
		LastUpdateTime:        in.LastUpdateTime,
		StartTime:             in.StartTime,
		FinishTime:            in.FinishTime,
	}
}

func convertInvocation(in *models.InvocationWithExecutions) api.Invocation {
	return api.Invocation{
		ID:                      in.ID,
		Project:                 in.Project,
		Version:                 in.Version,
		Function:                in.Function,
		Parent:                  convertParent(in.Parent),
		Input:                   in.Input,
		Status:                  string(in.Status),
		CreationTime:            in.CreationTime,
		CancellationRequestTime: in.CancellationRequestTime,
		LastUpdateTime:          in.LastUpdateTime,
		Executions: lo.Map(in.Executions, func(execution models.Execution, _ int) api.Execution {
			return convertExecution(&execution)
		}),
	}
}
