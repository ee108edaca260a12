package app

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gallery/service/internal/config"
	"github.com/gallery/service/internal/logger"
	"github.com/gallery/service/internal/middleware"
	"github.com/gallery/service/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		MetadataDriver:    "sqlite",
		SQLitePath:        filepath.Join(dir, "gallery.db"),
		JWTSecret:         "secret",
		LocalUploadDir:    filepath.Join(dir, "uploads"),
		LocalPublicBase:   "http://gallery.test" + StaticPrefix,
		BackendOrder:      []string{"object_store", "local"},
		StoryBackendOrder: []string{"cdn", "local"},
		NativeListing:     []string{"local"},
		BackendTimeout:    5 * time.Second,
		MaxUploadBytes:    1 << 20,
		MaxRequestBytes:   8 << 20,
		MaxDimension:      1000,
		IngestWorkers:     2,
		ListingCacheTTL:   time.Minute,
		ListingCacheSize:  8,
	}
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestBuildWithSQLiteAndLocalBackend(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Local)
	assert.Nil(t, a.Stories)
	_, ok := a.Selector.Backend(storage.KindLocal)
	assert.True(t, ok)
	_, ok = a.Selector.Backend(storage.KindObjectStore)
	assert.False(t, ok, "object store without credentials is not built")
}

func TestBuildRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.BackendOrder = []string{"floppy"}
	_, err := Build(context.Background(), cfg, logger.Discard())
	assert.ErrorContains(t, err, "BACKEND_ORDER")

	cfg = testConfig(t)
	cfg.MetadataDriver = "mysql"
	_, err = Build(context.Background(), cfg, logger.Discard())
	assert.ErrorContains(t, err, "METADATA_DRIVER")

	cfg = testConfig(t)
	cfg.LocalUploadDir = ""
	_, err = Build(context.Background(), cfg, logger.Discard())
	assert.ErrorIs(t, err, ErrNoBackends)
}

func TestRouterUploadServeAndProtect(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("photo", "sunset.jpg")
	require.NoError(t, err)
	_, err = fw.Write(testJPEG(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	upload := func(token string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/albums/beach/assets", bytes.NewReader(body.Bytes()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, upload("").StatusCode)

	token, err := middleware.IssueOwnerToken("secret", "owner", time.Hour)
	require.NoError(t, err)
	resp := upload(token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env struct {
		Data struct {
			Uploaded int `json:"uploaded"`
			Results  []struct {
				URL     string `json:"url"`
				Backend string `json:"backend"`
			} `json:"results"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.Equal(t, 1, env.Data.Uploaded)
	assert.Equal(t, "local", env.Data.Results[0].Backend)

	// The locator is served by the static file route.
	u, err := url.Parse(env.Data.Results[0].URL)
	require.NoError(t, err)
	fileResp, err := srv.Client().Get(srv.URL + u.EscapedPath())
	require.NoError(t, err)
	defer fileResp.Body.Close()
	assert.Equal(t, http.StatusOK, fileResp.StatusCode)
	data, err := io.ReadAll(fileResp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	listResp, err := srv.Client().Get(srv.URL + "/api/v1/albums")
	require.NoError(t, err)
	defer listResp.Body.Close()
	raw, err := io.ReadAll(listResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"name":"beach"`)

	storiesResp, err := srv.Client().Get(srv.URL + "/api/v1/stories")
	require.NoError(t, err)
	defer storiesResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, storiesResp.StatusCode, "stories need postgres")

	metricsResp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	raw, err = io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "gallery_http_requests_total")
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds([]string{"minio", "Cloudinary", "local"})
	require.NoError(t, err)
	assert.Equal(t, []storage.Kind{storage.KindObjectStore, storage.KindCDN, storage.KindLocal}, kinds)

	_, err = ParseKinds([]string{"tape"})
	assert.Error(t, err)
}
