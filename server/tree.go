package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tarungka/weave/tree"
)

// TreeRouter routes the tree inspection endpoints.
func TreeRouter(tr *tree.Tree) chi.Router {
	router := chi.NewRouter()
	router.Get("/", getTree(tr))
	router.Get("/{node_id}", getNode(tr))
	return router
}

func getTree(tr *tree.Tree) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SendResponse(w, true, tr.Snapshot(), "")
	}
}

func getNode(tr *tree.Tree) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "node_id")
		id, err := strconv.Atoi(raw)
		if err != nil {
			SendResponseWithHeader(w, false, nil, fmt.Sprintf("node id must be an integer, got %q", raw), http.StatusBadRequest, nil)
			return
		}
		snap, ok := tr.NodeSnapshotByID(id)
		if !ok {
			SendResponseWithHeader(w, false, nil, fmt.Sprintf("no node with id %d", id), http.StatusNotFound, nil)
			return
		}
		SendResponse(w, true, snap, "")
	}
}
