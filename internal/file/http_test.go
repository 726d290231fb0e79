package file

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/abduss/drop24/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenTable map[string]string

func (t tokenTable) Authenticate(_ context.Context, token string) (auth.Identity, error) {
	id, ok := t[token]
	if !ok {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return auth.Identity{ID: id}, nil
}

func newFileRouter(t *testing.T) (*gin.Engine, *serviceFixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fx := newServiceFixture(t)
	router := gin.New()
	RegisterRoutes(router.Group("/api"), fx.service, tokenTable{"t1": "U1", "t2": "U2"}, 1024)
	return router, fx
}

func multipartRequest(t *testing.T, path, token, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path, token, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func uploadOverHTTP(t *testing.T, router http.Handler, token, filename string, content []byte, visibility string) map[string]any {
	t.Helper()
	rec := serve(router, multipartRequest(t, "/api/upload", token, filename, content, map[string]string{"visibility": visibility}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func listIDs(t *testing.T, router http.Handler, path, token string) []string {
	t.Helper()
	rec := serve(router, jsonRequest(http.MethodGet, path, token, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list []Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	return ids(list)
}

func TestHTTPUploadRecordShape(t *testing.T) {
	router, _ := newFileRouter(t)

	body := uploadOverHTTP(t, router, "t1", "report.pdf", pdfPayload, "private")
	for _, key := range []string{"id", "originalname", "url", "public_id", "userId", "visibility", "uploadedAt", "resource_type"} {
		assert.Contains(t, body, key)
	}
	assert.Equal(t, "raw", body["resource_type"])
	assert.Equal(t, "U1", body["userId"])
}

func TestHTTPUploadErrors(t *testing.T) {
	router, _ := newFileRouter(t)

	rec := serve(router, multipartRequest(t, "/api/upload", "", "a.png", pngPayload, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, multipartRequest(t, "/api/upload", "bogus", "a.png", pngPayload, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, multipartRequest(t, "/api/upload", "t1", "", nil, map[string]string{"visibility": "public"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"no file uploaded"}`, rec.Body.String())

	rec = serve(router, multipartRequest(t, "/api/upload", "t1", "a.png", pngPayload, map[string]string{"visibility": "hidden"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, multipartRequest(t, "/api/upload", "t1", "a.exe", elfPayload, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPScenarios(t *testing.T) {
	router, fx := newFileRouter(t)

	// A: a private document is only listed for its owner.
	report := uploadOverHTTP(t, router, "t1", "report.pdf", pdfPayload, "private")
	assert.Equal(t, "raw", report["resource_type"])
	assert.NotContains(t, listIDs(t, router, "/api/files", ""), report["id"])
	assert.NotContains(t, listIDs(t, router, "/api/files", "broken-token"), report["id"])
	assert.Contains(t, listIDs(t, router, "/api/files", "t1"), report["id"])
	assert.Contains(t, listIDs(t, router, "/api/my-files", "t1"), report["id"])

	// B: a public image is listed for everyone.
	photo := uploadOverHTTP(t, router, "t2", "photo.png", pngPayload, "public")
	assert.Equal(t, "image", photo["resource_type"])
	for _, token := range []string{"", "t1", "t2"} {
		assert.Contains(t, listIDs(t, router, "/api/files", token), photo["id"])
	}

	// C: only the owner may change visibility.
	photoID := photo["id"].(string)
	rec := serve(router, jsonRequest(http.MethodPatch, "/api/upload/"+photoID, "t1", `{"visibility":"private"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = serve(router, jsonRequest(http.MethodPatch, "/api/upload/"+photoID, "t2", `{"visibility":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(router, jsonRequest(http.MethodPatch, "/api/upload/"+photoID, "t2", `{"visibility":"private"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, listIDs(t, router, "/api/files", ""), photoID)

	// D: a blob store outage does not keep the record alive.
	fx.blobs.removeErr = assert.AnError
	rec = serve(router, jsonRequest(http.MethodDelete, "/api/upload/"+photoID, "t2", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"File deleted"}`, rec.Body.String())
	assert.NotContains(t, listIDs(t, router, "/api/my-files", "t2"), photoID)

	rec = serve(router, jsonRequest(http.MethodDelete, "/api/upload/"+photoID, "t2", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPMyFilesRequiresAuth(t *testing.T) {
	router, _ := newFileRouter(t)

	rec := serve(router, jsonRequest(http.MethodGet, "/api/my-files", "", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, jsonRequest(http.MethodGet, "/api/files?limit=-1", "", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPDownloadLink(t *testing.T) {
	router, _ := newFileRouter(t)
	secret := uploadOverHTTP(t, router, "t1", "secret.png", pngPayload, "private")

	rec := serve(router, jsonRequest(http.MethodGet, "/api/upload/"+secret["id"].(string)+"/download", "t2", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, jsonRequest(http.MethodGet, "/api/upload/"+secret["id"].(string)+"/download", "t1", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var link map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	assert.NotEmpty(t, link["url"])
	assert.NotEmpty(t, link["expires"])
}
