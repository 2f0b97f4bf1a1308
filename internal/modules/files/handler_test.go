package files

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	base := kvstore.NewMemory()
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if scope, ok := clientscope.ForClient(base, c.GetHeader("X-Client-ID")); ok {
			c.Request = c.Request.WithContext(clientscope.With(c.Request.Context(), scope))
		}
	})
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func uploadRequest(t *testing.T, name, contentType, body string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write([]byte(body))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set("X-Client-ID", "c1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestFileEndpointsLifecycle(t *testing.T) {
	analyzer := &fakeAnalyzer{result: ai.AnalysisResult{Analysis: "{}", ProviderName: "Google", ModelName: "Gemini 2.5 Flash"}}
	svc := newTestService(t, analyzer)
	r := newTestRouter(t, svc)

	w := serve(r, uploadRequest(t, "a.txt", "text/plain", "hello", map[string]string{"model_id": "gemini-2.5-flash"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var f UploadedFile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	assert.Equal(t, StatusAnalyzing, f.Status)
	assert.NotContains(t, w.Body.String(), "object_key")
	svc.Wait()

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+f.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	assert.Equal(t, StatusCompleted, f.Status)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []UploadedFile `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Data, 1)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+f.ID+"/preview", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/"+f.ID+"/analyze", bytes.NewBufferString(`{"model_id":"gpt-4o"}`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(r, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	svc.Wait()

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+f.ID, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+f.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetFileRendersMarkdownAnalysis(t *testing.T) {
	analyzer := &fakeAnalyzer{result: ai.AnalysisResult{Analysis: `{"summary":"Short."}`, ProviderName: "Google", ModelName: "Gemini 2.5 Flash"}}
	svc := newTestService(t, analyzer)
	r := newTestRouter(t, svc)

	w := serve(r, uploadRequest(t, "a.txt", "text/plain", "hello", map[string]string{"model_id": "gemini-2.5-flash"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var f UploadedFile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	svc.Wait()

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+f.ID+"?format=markdown", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	require.NotNil(t, f.Analysis)
	assert.Equal(t, "### Summary\nShort.", *f.Analysis)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+f.ID, nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	assert.JSONEq(t, `{"summary":"Short."}`, *f.Analysis)
}

func TestUploadEndpointWithoutModel(t *testing.T) {
	r := newTestRouter(t, newTestService(t, &fakeAnalyzer{}))
	w := serve(r, uploadRequest(t, "a.txt", "text/plain", "x", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestUploadEndpointRequiresFile(t *testing.T) {
	r := newTestRouter(t, newTestService(t, &fakeAnalyzer{}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", nil)
	w := serve(r, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/files/x/analyze", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(r, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
