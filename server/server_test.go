package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tarungka/weave/ops"
	"github.com/tarungka/weave/tree"
)

// preparedTree builds a generator feeding a batch op and prepares it, so the
// snapshot endpoints have something deterministic to report.
func preparedTree(t *testing.T) *tree.Tree {
	t.Helper()
	leaf, err := ops.NewGenerator(ops.GeneratorConfig{NumRows: 4})
	require.NoError(t, err)
	root, err := ops.NewBatch(ops.BatchConfig{Size: 2})
	require.NoError(t, err)
	require.NoError(t, root.AddChild(leaf))

	tr := tree.New()
	require.NoError(t, tr.AssignRoot(root))
	require.NoError(t, tr.Prepare())
	return tr
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_TreeSnapshot(t *testing.T) {
	router := NewRouter(preparedTree(t))

	rec := get(t, router, "/tree")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var resp struct {
		Success bool              `json:"success"`
		Data    tree.TreeSnapshot `json:"data"`
		Error   string            `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Empty(t, resp.Error)

	require.Equal(t, "prepared", resp.Data.State)
	require.NotEmpty(t, resp.Data.RunID)
	require.NotEmpty(t, resp.Data.CRC)
	require.Len(t, resp.Data.Nodes, 2)

	// Snapshot order is root-first.
	require.Equal(t, "batch", resp.Data.Nodes[0].Name)
	require.Equal(t, "generator", resp.Data.Nodes[1].Name)
	require.Equal(t, []int{resp.Data.Nodes[1].ID}, resp.Data.Nodes[0].Children)
	require.False(t, resp.Data.Nodes[0].Leaf)
	require.True(t, resp.Data.Nodes[1].Leaf)
	require.Equal(t, "idle", resp.Data.Nodes[0].State)
}

func TestServer_NodeSnapshot(t *testing.T) {
	tr := preparedTree(t)
	router := NewRouter(tr)

	want := tr.Snapshot().Nodes[0]
	rec := get(t, router, fmt.Sprintf("/tree/%d", want.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    tree.NodeSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, want.ID, resp.Data.ID)
	require.Equal(t, want.Name, resp.Data.Name)
	require.Equal(t, want.Children, resp.Data.Children)
}

func TestServer_NodeSnapshotUnknownID(t *testing.T) {
	router := NewRouter(preparedTree(t))

	rec := get(t, router, "/tree/999")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ResponseModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "999")
}

func TestServer_NodeSnapshotBadID(t *testing.T) {
	router := NewRouter(preparedTree(t))

	rec := get(t, router, "/tree/root")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ResponseModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "root")
}

func TestServer_Health(t *testing.T) {
	router := NewRouter(preparedTree(t))

	rec := get(t, router, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	router := NewRouter(preparedTree(t))

	rec := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
