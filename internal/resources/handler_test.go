package resources_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/warden-authz/warden/internal/resources"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc, _ := newService(t)
	r := chi.NewRouter()
	resources.NewHandler(nil, svc).MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestGrainEndpoints(t *testing.T) {
	srv := newServer(t)

	resp := postJSON(t, srv.URL+"/grains", map[string]string{"name": "docs"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/grains", map[string]string{"name": "docs"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/grains", map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	var listed struct {
		Grains []string `json:"grains"`
	}
	resp, err := http.Get(srv.URL + "/grains")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &listed)
	require.Equal(t, []string{"docs"}, listed.Grains)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/grains/docs")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodDelete, srv.URL+"/grains/docs")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestResourceEndpoints(t *testing.T) {
	srv := newServer(t)

	resp := postJSON(t, srv.URL+"/grains", map[string]string{"name": "docs"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var workspace struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	resp = postJSON(t, srv.URL+"/grains/docs/resources", map[string]string{"name": "workspace"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeBody(t, resp, &workspace)
	require.Equal(t, "workspace", workspace.Name)

	var child struct {
		ID       string  `json:"id"`
		ParentID *string `json:"parentId"`
	}
	resp = postJSON(t, srv.URL+"/grains/docs/resources", map[string]any{
		"name":     "reports",
		"parentId": workspace.ID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeBody(t, resp, &child)
	require.NotNil(t, child.ParentID)
	require.Equal(t, workspace.ID, *child.ParentID)

	resp = doRequest(t, http.MethodGet, srv.URL+"/grains/docs/resources/"+child.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var children struct {
		Resources []struct {
			Name string `json:"name"`
		} `json:"resources"`
	}
	resp = doRequest(t, http.MethodGet, srv.URL+"/grains/docs/resources/"+workspace.ID+"/children")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &children)
	require.Len(t, children.Resources, 1)
	require.Equal(t, "reports", children.Resources[0].Name)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/grains/docs/resources/"+child.ID)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}

func TestResourceEndpointErrors(t *testing.T) {
	srv := newServer(t)

	resp := postJSON(t, srv.URL+"/grains", map[string]string{"name": "docs"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/grains/docs/resources", map[string]any{
		"name":     "orphan",
		"parentId": uuid.NewString(),
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/grains/docs/resources", map[string]any{
		"name":     "orphan",
		"parentId": "not-a-uuid",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/grains/docs/resources/not-a-uuid")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, fmt.Sprintf("%s/grains/docs/resources/%s", srv.URL, uuid.NewString()))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
