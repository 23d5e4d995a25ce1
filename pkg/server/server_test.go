package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/duynguyendang/sq8/internal/manager"
	"github.com/duynguyendang/sq8/pkg/codec"
	"github.com/duynguyendang/sq8/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	mgr := manager.NewDatasetManager(t.TempDir(), manager.MemoryProfileDefault, false, manager.Options{})
	t.Cleanup(mgr.CloseAll)
	return NewServer(mgr, Limits{MaxSamples: 1024, MaxBatch: 4})
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func doRaw(srv *Server, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", octetStream)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	srv := setupTestServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEncode_JSON(t *testing.T) {
	srv := setupTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/encode", gin.H{"samples": []float32{1, 2, 3, 4, 5}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeBody[encodeResponse](t, w)
	assert.Equal(t, float32(1), resp.Min)
	assert.Equal(t, float32(5), resp.Max)
	assert.Equal(t, 5, resp.Count)
	assert.InDelta(t, 20.0/13.0, resp.Ratio, 1e-12)
	require.Len(t, resp.Buffer, 13)
	assert.Equal(t, []byte{0, 64, 128, 191, 255}, resp.Buffer[codec.HeaderSize:])
	assert.Nil(t, resp.Stats)
}

func TestEncode_WithStats(t *testing.T) {
	srv := setupTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/encode?stats=true", gin.H{"samples": []float32{-1, -0.25, 0.1, 0.7, 1}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeBody[encodeResponse](t, w)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 5, resp.Stats.Count)
	assert.InDelta(t, 2.0/510.0, resp.Stats.Bound, 1e-12)
	assert.True(t, resp.Stats.WithinBound(1e-6))
}

func TestEncode_Errors(t *testing.T) {
	srv := setupTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/encode", gin.H{"samples": []float32{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "empty")

	w = doJSON(t, srv, http.MethodPost, "/v1/encode", gin.H{"samples": make([]float32, 1025)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/encode", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEncode_Raw(t *testing.T) {
	srv := setupTestServer(t)
	samples := []float32{42.5, 42.5, 42.5}

	w := doRaw(srv, "/v1/encode", codec.Float32sToBytes(samples))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, octetStream, w.Header().Get("Content-Type"))

	want, err := codec.Encode(samples)
	require.NoError(t, err)
	assert.Equal(t, want, w.Body.Bytes())

	w = doRaw(srv, "/v1/encode", []byte{1, 2, 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRaw(srv, "/v1/encode", codec.Float32sToBytes([]float32{1, float32(math.NaN())}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "NaN")

	w = doRaw(srv, "/v1/encode", make([]byte, 4*1025))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestDecode(t *testing.T) {
	srv := setupTestServer(t)
	buf, err := codec.Encode([]float32{1, 2, 3, 4, 5})
	require.NoError(t, err)

	t.Run("json", func(t *testing.T) {
		w := doJSON(t, srv, http.MethodPost, "/v1/decode", gin.H{"buffer": buf})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decodeBody[decodeResponse](t, w)
		assert.Equal(t, float32(1), resp.Min)
		assert.Equal(t, float32(5), resp.Max)
		assert.Equal(t, 5, resp.Count)
		require.Len(t, resp.Samples, 5)
		assert.Equal(t, float32(1), resp.Samples[0])
		assert.Equal(t, float32(5), resp.Samples[4])
	})

	t.Run("raw", func(t *testing.T) {
		w := doRaw(srv, "/v1/decode", buf)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Len(t, decodeBody[decodeResponse](t, w).Samples, 5)
	})

	t.Run("truncated", func(t *testing.T) {
		w := doRaw(srv, "/v1/decode", buf[:5])
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "shorter than 8 byte header")
	})

	t.Run("corrupt header", func(t *testing.T) {
		bad := bytes.Clone(buf)
		copy(bad[0:4], codec.Float32sToBytes([]float32{float32(math.Inf(1))}))
		w := doRaw(srv, "/v1/decode", bad)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBatch(t *testing.T) {
	srv := setupTestServer(t)

	seqs := [][]float32{{1, 2, 3}, {7}, {-5, 5}}
	w := doJSON(t, srv, http.MethodPost, "/v1/encode/batch", gin.H{"sequences": seqs})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	enc := decodeBody[struct {
		Items []encodeResponse `json:"items"`
	}](t, w)
	require.Len(t, enc.Items, 3)

	bufs := make([][]byte, len(enc.Items))
	for i, item := range enc.Items {
		assert.Equal(t, len(seqs[i]), item.Count)
		bufs[i] = item.Buffer
	}

	w = doJSON(t, srv, http.MethodPost, "/v1/decode/batch", gin.H{"buffers": bufs})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	dec := decodeBody[struct {
		Frames []codec.Frame `json:"frames"`
	}](t, w)
	require.Len(t, dec.Frames, 3)
	assert.Equal(t, []float32{7}, dec.Frames[1].Samples)
	assert.Equal(t, []float32{-5, 5}, dec.Frames[2].Samples)

	w = doJSON(t, srv, http.MethodPost, "/v1/encode/batch", gin.H{"sequences": make([][]float32, 5)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/v1/encode/batch", gin.H{"sequences": [][]float32{{1}, {}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "batch item 1")
}

func TestDatasetLifecycle(t *testing.T) {
	srv := setupTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/datasets/embeddings", gin.H{"description": "test vectors"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, srv, http.MethodPost, "/v1/datasets/embeddings", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/v1/datasets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	datasets := decodeBody[[]manager.DatasetInfo](t, w)
	require.Len(t, datasets, 1)
	assert.Equal(t, "embeddings", datasets[0].ID)
	assert.Equal(t, "test vectors", datasets[0].Description)

	w = doJSON(t, srv, http.MethodPost, "/v1/datasets/embeddings/blobs", gin.H{
		"name":    "row-0",
		"samples": []float32{-1, 0, 1},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	meta := decodeBody[store.Meta](t, w)
	assert.Equal(t, "row-0", meta.Name)
	assert.Equal(t, 3, meta.Count)
	assert.Equal(t, 11, meta.Size)

	pre, err := codec.Encode([]float32{10, 20})
	require.NoError(t, err)
	w = doJSON(t, srv, http.MethodPost, "/v1/datasets/embeddings/blobs", gin.H{"name": "row-1", "buffer": pre})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, srv, http.MethodGet, "/v1/datasets/embeddings/blobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]store.Meta](t, w), 2)

	base := "/v1/datasets/embeddings/blobs/" + meta.ID

	w = doJSON(t, srv, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	lo, hi, samples, err := codec.Decode(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, float32(-1), lo)
	assert.Equal(t, float32(1), hi)
	assert.Len(t, samples, 3)

	w = doJSON(t, srv, http.MethodGet, base+"/samples", nil)
	require.Equal(t, http.StatusOK, w.Code)
	frame := decodeBody[decodeResponse](t, w)
	assert.Equal(t, 3, frame.Count)
	assert.Equal(t, float32(-1), frame.Samples[0])
	assert.Equal(t, float32(1), frame.Samples[2])

	w = doJSON(t, srv, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, base+"/samples", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, srv, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDatasetErrors(t *testing.T) {
	srv := setupTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/datasets/embeddings", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/v1/datasets/embedings/blobs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody[map[string]string](t, w)
	assert.Equal(t, "embeddings", body["suggestion"])

	w = doJSON(t, srv, http.MethodGet, "/v1/datasets/zzzzzzzzzzzz/blobs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "suggestion")

	w = doJSON(t, srv, http.MethodPost, "/v1/datasets/-bad", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/v1/datasets/embeddings/blobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/v1/datasets/embeddings/blobs", gin.H{"name": "bad", "buffer": []byte{1, 2, 3}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJSONBodyLimit(t *testing.T) {
	srv := setupTestServer(t)
	padding := strings.Repeat(" ", int(srv.samplesBodyLimit()))

	for _, tt := range []struct {
		path string
		body string
	}{
		{"/v1/encode", `{"samples": [1, 2, 3]` + padding + `}`},
		{"/v1/encode/batch", `{"sequences": [[1]]` + strings.Repeat(padding, 5) + `}`},
		{"/v1/decode", `{"buffer": ""` + padding + `}`},
		{"/v1/datasets/padded", `{"description": ""` + padding + `}`},
	} {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			srv.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "Request body too large")
		})
	}

	// A full-size request still fits.
	w := doJSON(t, srv, http.MethodPost, "/v1/encode", gin.H{"samples": wideSamples(1024)})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// wideSamples returns values whose JSON form uses every significant digit.
func wideSamples(n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = -1.2345679e-30 * float32(i+1)
	}
	return samples
}
