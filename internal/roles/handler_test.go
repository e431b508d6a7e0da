package roles_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/warden-authz/warden/internal/roles"
)

func newServer(t *testing.T) (*httptest.Server, uuid.UUID) {
	t.Helper()
	svc, _, scope := newService(t)
	h := roles.NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Route("/roles", h.MountRoutes)
	r.Route("/permissions", h.MountPermissionRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, scope
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func deleteJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodDelete, url, bytes.NewReader(buf))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

type roleBody struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Deny          bool     `json:"deny"`
	PermissionIDs []string `json:"permissionIds"`
}

func TestRoleEndpoints(t *testing.T) {
	srv, scope := newServer(t)

	resp := postJSON(t, srv.URL+"/roles", map[string]any{
		"grain":           "docs",
		"securableItemId": scope.String(),
		"name":            "editor",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created roleBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, "editor", created.Name)
	require.False(t, created.Deny)

	resp = postJSON(t, srv.URL+"/roles", map[string]any{
		"grain":           "docs",
		"securableItemId": scope.String(),
		"name":            "editor",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/roles/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/roles/scope/docs/" + scope.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Roles []roleBody `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Roles, 1)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/roles/"+created.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/roles/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRolePermissionAttachment(t *testing.T) {
	srv, scope := newServer(t)

	resp := postJSON(t, srv.URL+"/permissions", map[string]any{
		"grain":           "docs",
		"securableItemId": scope.String(),
		"name":            "read",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var perm struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&perm))
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/roles", map[string]any{
		"grain":           "docs",
		"securableItemId": scope.String(),
		"name":            "viewer",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var role roleBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&role))
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/roles/"+role.ID+"/permissions", map[string]any{
		"permissionIds": []string{perm.ID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated roleBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	resp.Body.Close()
	require.Equal(t, []string{perm.ID}, updated.PermissionIDs)

	resp = deleteJSON(t, srv.URL+"/roles/"+role.ID+"/permissions", map[string]any{
		"permissionIds": []string{perm.ID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	resp.Body.Close()
	require.Empty(t, updated.PermissionIDs)
}

func TestRoleEndpointValidation(t *testing.T) {
	srv, _ := newServer(t)

	resp := postJSON(t, srv.URL+"/roles", map[string]any{
		"grain": "docs",
		"name":  "editor",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/roles", map[string]any{
		"grain":           "docs",
		"securableItemId": uuid.NewString(),
		"name":            "editor",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/roles/not-a-uuid/permissions", map[string]any{
		"permissionIds": []string{uuid.NewString()},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/roles/"+uuid.NewString()+"/permissions", map[string]any{
		"permissionIds": []string{},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAttachForeignScopePermission(t *testing.T) {
	srv, scope := newServer(t)

	resp := postJSON(t, srv.URL+"/roles", map[string]any{
		"grain":           "docs",
		"securableItemId": scope.String(),
		"name":            "viewer",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var role roleBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&role))
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/roles/"+role.ID+"/permissions", map[string]any{
		"permissionIds": []string{uuid.NewString()},
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
