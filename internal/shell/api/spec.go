package api

import (
	"net/http"

	"github.com/opsline/deckhand/internal/shell/api/openapi"
)

// newSpec builds the OpenAPI document for the routes Routes serves.
func newSpec() *openapi.Generator {
	gen := openapi.NewGenerator(
		openapi.WithTitle("Deckhand API"),
		openapi.WithVersion("1.0.0"),
		openapi.WithDescription("Management API for the Deckhand push-to-deploy daemon."),
	)

	gen.RegisterResource(openapi.ResourceInfo{
		Name:      "targets",
		IDParam:   "name",
		Model:     TargetResponse{},
		ListModel: ListTargetsResponse{},
	})
	gen.RegisterResource(openapi.ResourceInfo{
		Name:        "runs",
		IDParam:     "id",
		Model:       RunResponse{},
		ListModel:   ListRunsResponse{},
		ListFilters: []string{"target", "status"},
	})

	gen.RegisterOperation(openapi.OperationInfo{
		Method:      http.MethodPost,
		Path:        "/api/v1/targets/{name}/deploys",
		OperationID: "triggerDeploy",
		Summary:     "Trigger a deploy",
		Tag:         "Targets",
		Request:     TriggerDeployRequest{},
		Response:    DeployAcceptedResponse{},
		Status:      http.StatusAccepted,
	})
	gen.RegisterOperation(openapi.OperationInfo{
		Method:      http.MethodGet,
		Path:        "/api/v1/targets/{name}/containers",
		OperationID: "getTargetContainers",
		Summary:     "Observe containers on a target",
		Tag:         "Targets",
		Response:    ContainersResponse{},
		Status:      http.StatusOK,
	})
	gen.RegisterOperation(openapi.OperationInfo{
		Method:      http.MethodGet,
		Path:        "/api/v1/queue",
		OperationID: "getQueue",
		Summary:     "Inspect dispatch lanes",
		Tag:         "Queue",
		Response:    QueueResponse{},
		Status:      http.StatusOK,
	})
	gen.RegisterOperation(openapi.OperationInfo{
		Method:      http.MethodPost,
		Path:        "/hooks/push",
		OperationID: "receivePushHook",
		Summary:     "Receive a push webhook",
		Tag:         "Hooks",
		Response:    HookAcceptedResponse{},
		Status:      http.StatusAccepted,
	})

	return gen
}
