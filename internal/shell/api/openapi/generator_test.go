package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	Name      string     `json:"name"`
	Count     int        `json:"count"`
	Ratio     float64    `json:"ratio"`
	Labels    []string   `json:"labels,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Hidden    string     `json:"-"`
}

type testList struct {
	Items []testItem `json:"items"`
	Total int        `json:"total"`
}

type testSummary struct {
	ID string `json:"id"`
}

type testDetail struct {
	testSummary
	Notes []string `json:"notes"`
}

func TestGenerate_ResourcePaths(t *testing.T) {
	gen := NewGenerator(WithTitle("Test API"), WithVersion("0.1.0"))
	gen.RegisterResource(ResourceInfo{
		Name:        "items",
		IDParam:     "id",
		Model:       testItem{},
		ListModel:   testList{},
		ListFilters: []string{"state"},
	})

	spec := gen.Generate()

	collection := spec.Paths.Value("/api/v1/items")
	require.NotNil(t, collection)
	require.NotNil(t, collection.Get)
	assert.Equal(t, "listItems", collection.Get.OperationID)
	assert.Len(t, collection.Get.Parameters, 3) // limit, offset, state

	item := spec.Paths.Value("/api/v1/items/{id}")
	require.NotNil(t, item)
	require.NotNil(t, item.Get)
	assert.Equal(t, "getItem", item.Get.OperationID)
	require.Len(t, item.Parameters, 1)
	assert.Equal(t, "id", item.Parameters[0].Value.Name)

	assert.Contains(t, spec.Components.Schemas, "testItem")
	assert.Contains(t, spec.Components.Schemas, "testList")
	assert.Contains(t, spec.Components.Schemas, "Error")
}

func TestGenerate_OperationsSharePathItem(t *testing.T) {
	gen := NewGenerator()
	gen.RegisterOperation(OperationInfo{
		Method:      http.MethodPost,
		Path:        "/things/{name}/actions",
		OperationID: "startAction",
		Summary:     "Start an action",
		Tag:         "Things",
		Request:     testItem{},
		Response:    testSummary{},
		Status:      http.StatusAccepted,
	})
	gen.RegisterOperation(OperationInfo{
		Method:      http.MethodGet,
		Path:        "/things/{name}/actions",
		OperationID: "listActions",
		Summary:     "List actions",
		Tag:         "Things",
		Response:    testList{},
		Status:      http.StatusOK,
	})

	spec := gen.Generate()

	item := spec.Paths.Value("/things/{name}/actions")
	require.NotNil(t, item)
	require.NotNil(t, item.Post)
	require.NotNil(t, item.Get)

	require.Len(t, item.Parameters, 1)
	assert.Equal(t, "name", item.Parameters[0].Value.Name)

	require.NotNil(t, item.Post.RequestBody)
	assert.NotNil(t, item.Post.Responses.Value("202"))
	assert.NotNil(t, item.Post.Responses.Value("default"))
}

func TestGenerate_CachedUntilRegister(t *testing.T) {
	gen := NewGenerator()

	first := gen.Generate()
	assert.Same(t, first, gen.Generate())

	gen.RegisterResource(ResourceInfo{Name: "items", IDParam: "id", Model: testItem{}, ListModel: testList{}})
	assert.NotSame(t, first, gen.Generate())
}

func TestExtractSchema_FlattensEmbedded(t *testing.T) {
	gen := NewGenerator()

	ref := gen.extractSchema(testDetail{})

	require.NotNil(t, ref.Value)
	assert.Contains(t, ref.Value.Properties, "id")
	assert.Contains(t, ref.Value.Properties, "notes")
}

func TestExtractSchema_Types(t *testing.T) {
	gen := NewGenerator()

	ref := gen.extractSchema(testItem{})
	props := ref.Value.Properties

	assert.True(t, props["count"].Value.Type.Is("integer"))
	assert.True(t, props["ratio"].Value.Type.Is("number"))
	assert.True(t, props["labels"].Value.Type.Is("array"))
	assert.Equal(t, "date-time", props["created_at"].Value.Format)
	assert.True(t, props["deleted_at"].Value.Nullable)
	assert.NotContains(t, props, "Hidden")
}

func TestHandler_ServesDocument(t *testing.T) {
	gen := NewGenerator(WithTitle("Test API"))

	rec := httptest.NewRecorder()
	gen.Handler()(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var doc struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Title string `json:"title"`
		} `json:"info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc.OpenAPI)
	assert.Equal(t, "Test API", doc.Info.Title)
}

func TestSingularize(t *testing.T) {
	assert.Equal(t, "run", singularize("runs"))
	assert.Equal(t, "target", singularize("targets"))
	assert.Equal(t, "query", singularize("queries"))
	assert.Equal(t, "box", singularize("boxes"))
}
