package server_test

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanrel/capshare/internal/storage/blob"
	"github.com/evanrel/capshare/internal/storage/memory"
	"github.com/evanrel/capshare/pkg/authority"
	"github.com/evanrel/capshare/pkg/registry"
	"github.com/evanrel/capshare/pkg/server"
)

const (
	owner   = "did:key:z6MkOwner"
	grantee = "did:key:z6MkFriend"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	store := memory.NewStore()

	auth, err := authority.New(authority.Config{
		Store:      store,
		DID:        "did:key:z6MkService",
		PrivateKey: priv,
	})
	require.NoError(t, err)

	blobs, err := blob.NewStore(dssync.MutexWrap(datastore.NewMapDatastore()), "http://localhost:8080", nil)
	require.NoError(t, err)

	reg, err := registry.New(registry.Config{
		Catalog:   store,
		Authority: auth,
		Blobs:     blobs,
		BaseURL:   "http://localhost:8080",
	})
	require.NoError(t, err)

	h, err := server.New(server.WithRegistry(reg))
	require.NoError(t, err)

	ts := httptest.NewServer(h.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func uploadRequest(t *testing.T, ts *httptest.Server, owner, filename string, data []byte) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("owner", owner))
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(ts.URL+"/api/objects", w.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func uploadObject(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	resp := uploadRequest(t, ts, owner, "sunset.jpg", []byte("photo bytes"))
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var res registry.UploadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res.Object.ID
}

func share(t *testing.T, ts *httptest.Server, subjectID string, caps ...string) registry.ShareResult {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"owner":        owner,
		"grantee":      grantee,
		"capabilities": caps,
		"ttlDays":      30,
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/objects/"+subjectID+"/shares", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res registry.ShareResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

func deniedReason(t *testing.T, resp *http.Response) string {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t)

	resp := uploadRequest(t, ts, owner, "sunset.jpg", []byte("photo bytes"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var res registry.UploadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.NotEmpty(t, res.Object.ID)
	assert.Equal(t, owner, res.Object.Owner)
}

func TestUpload_MissingOwner(t *testing.T) {
	ts := newTestServer(t)

	resp := uploadRequest(t, ts, "", "sunset.jpg", []byte("photo bytes"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpload_Duplicate(t *testing.T) {
	ts := newTestServer(t)

	uploadObject(t, ts)

	resp := uploadRequest(t, ts, owner, "copy.jpg", []byte("photo bytes"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestShareAndAccess(t *testing.T) {
	ts := newTestServer(t)

	subjectID := uploadObject(t, ts)
	res := share(t, ts, subjectID, "view", "download")
	require.NotEmpty(t, res.Proof)

	// View returns the access grant
	resp, err := http.Get(ts.URL + "/api/objects/" + subjectID + "?proof=" + res.Proof)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var grant registry.AccessGrant
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&grant))
	assert.Equal(t, owner, grant.Owner)
	assert.Equal(t, grantee, grant.Grantee)
	assert.Equal(t, "sunset.jpg", grant.Filename)

	// Download streams the bytes
	resp, err = http.Get(ts.URL + "/api/objects/" + subjectID + "?action=download&proof=" + res.Proof)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("photo bytes"), data)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "sunset.jpg")
}

func TestAccess_MalformedProof(t *testing.T) {
	ts := newTestServer(t)

	subjectID := uploadObject(t, ts)

	resp, err := http.Get(ts.URL + "/api/objects/" + subjectID + "?proof=garbage")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "malformed proof", deniedReason(t, resp))
}

func TestAccess_ViewOnlyDeniesDownload(t *testing.T) {
	ts := newTestServer(t)

	subjectID := uploadObject(t, ts)
	res := share(t, ts, subjectID, "view")

	resp, err := http.Get(ts.URL + "/api/objects/" + subjectID + "?action=download&proof=" + res.Proof)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "capability not granted", deniedReason(t, resp))
}

func TestAccess_UnknownObject(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/objects/bafkreimissing?proof=garbage")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAccess_UnknownAction(t *testing.T) {
	ts := newTestServer(t)

	subjectID := uploadObject(t, ts)

	resp, err := http.Get(ts.URL + "/api/objects/" + subjectID + "?action=delete")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShare_NotOwner(t *testing.T) {
	ts := newTestServer(t)

	subjectID := uploadObject(t, ts)

	body, err := json.Marshal(map[string]any{
		"owner":        "did:key:z6MkEve",
		"grantee":      grantee,
		"capabilities": []string{"view"},
		"ttlDays":      30,
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/objects/"+subjectID+"/shares", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestShare_UnknownCapability(t *testing.T) {
	ts := newTestServer(t)

	subjectID := uploadObject(t, ts)

	body, err := json.Marshal(map[string]any{
		"owner":        owner,
		"grantee":      grantee,
		"capabilities": []string{"admin"},
		"ttlDays":      30,
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/objects/"+subjectID+"/shares", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRevokeFlow(t *testing.T) {
	ts := newTestServer(t)

	subjectID := uploadObject(t, ts)
	res := share(t, ts, subjectID, "view")

	body, err := json.Marshal(map[string]string{"owner": owner, "grantee": grantee})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/objects/"+subjectID+"/revoke", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rev struct {
		Revoked bool `json:"revoked"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rev))
	assert.True(t, rev.Revoked)

	// The already-distributed proof is now dead
	resp, err = http.Get(ts.URL + "/api/objects/" + subjectID + "?proof=" + res.Proof)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "revoked", deniedReason(t, resp))
}

func TestListByOwner(t *testing.T) {
	ts := newTestServer(t)

	subjectID := uploadObject(t, ts)
	share(t, ts, subjectID, "view")

	resp, err := http.Get(ts.URL + "/api/owners/" + owner + "/objects")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []registry.ObjectSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, subjectID, summaries[0].Object.ID)
	require.Len(t, summaries[0].Delegations, 1)
	assert.Equal(t, grantee, summaries[0].Delegations[0].Grantee)
}

func TestListDelegations(t *testing.T) {
	ts := newTestServer(t)

	subjectID := uploadObject(t, ts)
	share(t, ts, subjectID, "view")

	resp, err := http.Get(fmt.Sprintf("%s/api/objects/%s/shares?owner=%s", ts.URL, subjectID, owner))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []registry.DelegationSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, grantee, list[0].Grantee)

	// Not the owner
	resp, err = http.Get(fmt.Sprintf("%s/api/objects/%s/shares?owner=did:key:z6MkEve", ts.URL, subjectID))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
