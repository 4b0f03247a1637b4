package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Surface Smoke Tests
// =============================================================================

// TestE2E_HealthCheck verifies the server is running and responding.
func TestE2E_HealthCheck(t *testing.T) {
	resp := httpGet(t, baseURL+"/health")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestE2E_ReadyCheck verifies the journal is reachable.
func TestE2E_ReadyCheck(t *testing.T) {
	resp := httpGet(t, baseURL+"/ready")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestE2E_StatusPage verifies the HTML status page renders the target.
func TestE2E_StatusPage(t *testing.T) {
	resp := httpGet(t, baseURL+"/")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), testTargetName)
}

// TestE2E_OpenAPIDocument verifies the generated document is valid JSON and
// covers the API paths.
func TestE2E_OpenAPIDocument(t *testing.T) {
	resp := httpGet(t, baseURL+"/openapi.json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		OpenAPI string                     `json:"openapi"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	decodeJSON(t, resp, &doc)

	assert.True(t, strings.HasPrefix(doc.OpenAPI, "3.0"), "unexpected version %q", doc.OpenAPI)
	assert.Contains(t, doc.Paths, "/api/v1/targets")
	assert.Contains(t, doc.Paths, "/api/v1/runs/{id}")
	assert.Contains(t, doc.Paths, "/hooks/push")
}

// =============================================================================
// Management API Tests
// =============================================================================

// TestE2E_AuthRequired verifies the management API rejects missing and wrong
// bearer tokens.
func TestE2E_AuthRequired(t *testing.T) {
	// No token
	resp := httpGet(t, baseURL+"/api/v1/targets")
	var errBody errorResp
	decodeJSON(t, resp, &errBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", errBody.Code)

	// Wrong token
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/targets", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-the-token")
	wrongResp, err := testClient.Do(req)
	require.NoError(t, err)
	wrongResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrongResp.StatusCode)
}

// TestE2E_ListTargets verifies the configured target is visible.
func TestE2E_ListTargets(t *testing.T) {
	resp := apiGet(t, "/api/v1/targets")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list listTargetsResp
	decodeJSON(t, resp, &list)

	require.Equal(t, 1, list.Total)
	assert.Equal(t, testTargetName, list.Targets[0].Name)
	assert.Equal(t, "local", list.Targets[0].Executor)
	assert.Equal(t, "main", list.Targets[0].Branch)
}

// TestE2E_GetTarget_NotFound verifies unknown targets return 404.
func TestE2E_GetTarget_NotFound(t *testing.T) {
	resp := apiGet(t, "/api/v1/targets/does-not-exist")
	var errBody errorResp
	decodeJSON(t, resp, &errBody)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "target_not_found", errBody.Code)
}

// TestE2E_QueueStatus verifies the dispatch lanes are reported.
func TestE2E_QueueStatus(t *testing.T) {
	resp := apiGet(t, "/api/v1/queue")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var queue queueResp
	decodeJSON(t, resp, &queue)

	require.Len(t, queue.Lanes, 1)
	assert.Equal(t, testTargetName, queue.Lanes[0].Target)
}

// TestE2E_RunNotFound verifies unknown run IDs return 404.
func TestE2E_RunNotFound(t *testing.T) {
	resp := apiGet(t, "/api/v1/runs/00000000-0000-0000-0000-000000000000")
	var errBody errorResp
	decodeJSON(t, resp, &errBody)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "run_not_found", errBody.Code)
}

// =============================================================================
// Deploy Lifecycle Tests
// =============================================================================

// TestE2E_ManualDeployLifecycle triggers a deploy through the API and follows
// the run to its recorded failure: the deploy directory is not a checkout, so
// the first step fails and every later step is skipped.
func TestE2E_ManualDeployLifecycle(t *testing.T) {
	resp := apiPost(t, "/api/v1/targets/"+testTargetName+"/deploys", map[string]string{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted deployAcceptedResp
	decodeJSON(t, resp, &accepted)
	require.NotEmpty(t, accepted.RunID)
	assert.Equal(t, testTargetName, accepted.Target)

	run := waitForRun(t, accepted.RunID, 15*time.Second)

	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, "manual", run.Trigger)
	assert.Equal(t, "refs/heads/main", run.Ref)
	assert.NotEmpty(t, run.Error)
	require.NotNil(t, run.Started)
	require.NotNil(t, run.Finished)

	// One failed step, the rest recorded as skipped.
	require.Len(t, run.Steps, 7)
	assert.Equal(t, "check deploy directory", run.Steps[0].Name)
	assert.Equal(t, "failed", run.Steps[0].Status)
	assert.NotZero(t, run.Steps[0].ExitCode)
	for _, step := range run.Steps[1:] {
		assert.Equal(t, "skipped", step.Status, "step %s", step.Name)
	}
}

// TestE2E_ManualDeploy_ExplicitRef verifies a bare branch name is accepted
// and normalized.
func TestE2E_ManualDeploy_ExplicitRef(t *testing.T) {
	resp := apiPost(t, "/api/v1/targets/"+testTargetName+"/deploys", map[string]string{
		"ref": "main",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted deployAcceptedResp
	decodeJSON(t, resp, &accepted)

	run := waitForRun(t, accepted.RunID, 15*time.Second)
	assert.Equal(t, "refs/heads/main", run.Ref)
}

// TestE2E_ListRuns verifies settled runs appear in the listing with filters.
func TestE2E_ListRuns(t *testing.T) {
	// At least one run exists once the lifecycle tests have executed; make
	// sure of it without depending on test order.
	resp := apiPost(t, "/api/v1/targets/"+testTargetName+"/deploys", map[string]string{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted deployAcceptedResp
	decodeJSON(t, resp, &accepted)
	waitForRun(t, accepted.RunID, 15*time.Second)

	listResp := apiGet(t, "/api/v1/runs?target="+testTargetName+"&status=failed")
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var list listRunsResp
	decodeJSON(t, listResp, &list)

	require.NotEmpty(t, list.Runs)
	for _, run := range list.Runs {
		assert.Equal(t, testTargetName, run.Target)
		assert.Equal(t, "failed", run.Status)
	}
}

// =============================================================================
// Webhook Tests
// =============================================================================

// TestE2E_WebhookDeploy delivers a signed push for the deployed branch and
// follows the run it starts.
func TestE2E_WebhookDeploy(t *testing.T) {
	payload, signature := signedPushPayload(t, "refs/heads/main", "e2e0000deadbeef")

	resp := postHook(t, payload, signature)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var hook hookAcceptedResp
	decodeJSON(t, resp, &hook)

	assert.Equal(t, "refs/heads/main", hook.Ref)
	assert.Equal(t, "e2e0000deadbeef", hook.Commit)
	require.Len(t, hook.Deploys, 1)
	assert.Equal(t, testTargetName, hook.Deploys[0].Target)

	run := waitForRun(t, hook.Deploys[0].RunID, 15*time.Second)
	assert.Equal(t, "push", run.Trigger)
	assert.Equal(t, "e2e0000deadbeef", run.Commit)
	assert.Equal(t, "failed", run.Status)
}

// TestE2E_WebhookBadSignature verifies a tampered payload is rejected.
func TestE2E_WebhookBadSignature(t *testing.T) {
	payload, _ := signedPushPayload(t, "refs/heads/main", "e2e1111deadbeef")

	resp := postHook(t, payload, "sha256=0000000000000000000000000000000000000000000000000000000000000000")
	var errBody errorResp
	decodeJSON(t, resp, &errBody)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "signature_invalid", errBody.Code)
}

// TestE2E_WebhookMissingSignature verifies an unsigned payload is rejected.
func TestE2E_WebhookMissingSignature(t *testing.T) {
	payload, _ := signedPushPayload(t, "refs/heads/main", "e2e2222deadbeef")

	resp := postHook(t, payload, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestE2E_WebhookIgnoresOtherBranch verifies pushes to other branches are
// acknowledged but start nothing.
func TestE2E_WebhookIgnoresOtherBranch(t *testing.T) {
	payload, signature := signedPushPayload(t, "refs/heads/feature/new-look", "e2e3333deadbeef")

	resp := postHook(t, payload, signature)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var hook hookAcceptedResp
	decodeJSON(t, resp, &hook)

	assert.Empty(t, hook.Deploys)
	require.Len(t, hook.Ignored, 1)
	assert.Contains(t, hook.Ignored[0], testTargetName)
}
