package groups_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/authz/memstore"
	"github.com/warden-authz/warden/internal/groups"
)

func newServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	svc, store := newService(t)
	r := chi.NewRouter()
	r.Route("/groups", groups.NewHandler(nil, svc).MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func sendJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, url, bytes.NewReader(buf))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

type groupBody struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	RoleIDs []string `json:"roleIds"`
}

func createGroup(t *testing.T, srv *httptest.Server, name string) groupBody {
	t.Helper()
	resp := sendJSON(t, http.MethodPost, srv.URL+"/groups", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var group groupBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&group))
	resp.Body.Close()
	return group
}

func TestGroupEndpoints(t *testing.T) {
	srv, _ := newServer(t)

	group := createGroup(t, srv, "readers")
	require.Equal(t, "readers", group.Name)

	resp := sendJSON(t, http.MethodPost, srv.URL+"/groups", map[string]string{"name": "readers"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/groups")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Groups []groupBody `json:"groups"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Groups, 1)

	resp, err = http.Get(srv.URL + "/groups/by-name/readers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var byName groupBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&byName))
	resp.Body.Close()
	require.Equal(t, group.ID, byName.ID)

	resp, err = http.Get(srv.URL + "/groups/by-name/ghost")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/groups/"+group.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/groups/" + group.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestListGroupsPagination(t *testing.T) {
	srv, _ := newServer(t)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		createGroup(t, srv, name)
	}

	resp, err := http.Get(srv.URL + "/groups?page=2&perPage=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Groups     []groupBody `json:"groups"`
		Pagination struct {
			Page       int `json:"page"`
			PerPage    int `json:"perPage"`
			Total      int `json:"total"`
			TotalPages int `json:"totalPages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Groups, 1)
	require.Equal(t, 2, listed.Pagination.Page)
	require.Equal(t, 3, listed.Pagination.Total)
	require.Equal(t, 2, listed.Pagination.TotalPages)
}

func TestGroupRoleEndpoints(t *testing.T) {
	srv, store := newServer(t)
	group := createGroup(t, srv, "editors")
	roleID := addRole(t, store)

	resp := sendJSON(t, http.MethodPost, srv.URL+"/groups/"+group.ID+"/roles", map[string]any{
		"roleIds": []string{roleID.String()},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated groupBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	resp.Body.Close()
	require.Equal(t, []string{roleID.String()}, updated.RoleIDs)

	resp = sendJSON(t, http.MethodPost, srv.URL+"/groups/"+group.ID+"/roles", map[string]any{
		"roleIds": []string{uuid.NewString()},
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = sendJSON(t, http.MethodDelete, srv.URL+"/groups/"+group.ID+"/roles", map[string]any{
		"roleIds": []string{roleID.String()},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	resp.Body.Close()
	require.Empty(t, updated.RoleIDs)
}

func TestGroupMemberEndpoints(t *testing.T) {
	srv, store := newServer(t)
	group := createGroup(t, srv, "staff")

	key := authz.UserKey("local", "alice")
	require.NoError(t, store.CreatePrincipal(context.Background(), authz.Principal{Key: key}))

	member := map[string]string{
		"kind":             "user",
		"identityProvider": "local",
		"subject":          "alice",
	}
	resp := sendJSON(t, http.MethodPost, srv.URL+"/groups/"+group.ID+"/members", member)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/groups/" + group.ID + "/members")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Members []struct {
			Kind    string `json:"kind"`
			Subject string `json:"subject"`
		} `json:"members"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Members, 1)
	require.Equal(t, "alice", listed.Members[0].Subject)

	resp = sendJSON(t, http.MethodDelete, srv.URL+"/groups/"+group.ID+"/members", member)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/groups/" + group.ID + "/members")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Empty(t, listed.Members)
}

func TestGroupMemberValidation(t *testing.T) {
	srv, _ := newServer(t)
	group := createGroup(t, srv, "ops")

	resp := sendJSON(t, http.MethodPost, srv.URL+"/groups/"+group.ID+"/members", map[string]string{
		"kind":    "robot",
		"subject": "r2",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = sendJSON(t, http.MethodPost, srv.URL+"/groups/"+group.ID+"/members", map[string]string{
		"kind":    "user",
		"subject": "alice",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
