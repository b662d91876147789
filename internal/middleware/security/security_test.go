package security

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoStatus() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func filterGet(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestFilterDisabledPassesEverything(t *testing.T) {
	handler := FilterMiddleware(false)(echoStatus())

	for _, path := range []string{"/wp-admin/", "/.git/config", "/../etc/passwd", "/phpinfo.php"} {
		assert.Equal(t, http.StatusOK, filterGet(handler, path).Code, "path %s", path)
	}
}

func TestFilterBlocksScannerPaths(t *testing.T) {
	handler := FilterMiddleware(true)(echoStatus())

	blocked := []string{
		"/wp-admin/",
		"/wp-admin/index.php",
		"/wp-includes/something.php",
		"/wp-content/uploads/",
		"/wp-login.php",
		"/xmlrpc.php",
		"/.php",
		"/.git/config",
		"/.env",
		"/phpmyadmin/",
		"/phpinfo.php",
		"/cgi-bin/script.cgi",
		"/admin/login",
		"/.htaccess",
		"/.htpasswd",
		"/server-status",
		"/shell.php",
		"/config.php",
	}
	for _, path := range blocked {
		assert.Equal(t, http.StatusBadRequest, filterGet(handler, path).Code, "path %s", path)
	}
}

func TestFilterBlocksTraversal(t *testing.T) {
	handler := FilterMiddleware(true)(echoStatus())

	blocked := []string{
		"/../../etc/passwd",
		"/files/../../../etc/passwd",
		"/foo%2e%2e/bar",
	}
	for _, path := range blocked {
		assert.Equal(t, http.StatusBadRequest, filterGet(handler, path).Code, "path %s", path)
	}
}

func TestFilterExemptsHealthPaths(t *testing.T) {
	handler := FilterMiddleware(true)(echoStatus())

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		assert.Equal(t, http.StatusOK, filterGet(handler, path).Code, "path %s", path)
	}
}

func TestFilterAllowsServiceRoutes(t *testing.T) {
	handler := FilterMiddleware(true)(echoStatus())

	allowed := []string{
		"/",
		"/api/v1/whitelist",
		"/api/v1/whitelist/0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
		"/api/v1/attestations",
		"/api/v1/certifications/0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
		"/api/v1/whitelist/threshold",
		"/metrics",
	}
	for _, path := range allowed {
		assert.Equal(t, http.StatusOK, filterGet(handler, path).Code, "path %s", path)
	}
}

func TestFilterIsCaseInsensitive(t *testing.T) {
	handler := FilterMiddleware(true)(echoStatus())

	for _, path := range []string{"/WP-ADMIN/", "/Wp-Admin/", "/.GIT/config", "/.ENV", "/PHPMYADMIN/"} {
		assert.Equal(t, http.StatusBadRequest, filterGet(handler, path).Code, "path %s", path)
	}
}

func TestFilterResponseShape(t *testing.T) {
	handler := FilterMiddleware(true)(echoStatus())

	rr := filterGet(handler, "/wp-admin/")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "BAD_REQUEST", errObj["code"])
	assert.Equal(t, "Invalid request", errObj["message"])
}

func TestMaxBodySize(t *testing.T) {
	handler := MaxBodySizeMiddleware(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))

	t.Run("small body passes", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/attestations", bytes.NewReader([]byte("small body")))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "small body", rr.Body.String())
	})

	t.Run("body at the cap passes", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/attestations", strings.NewReader(strings.Repeat("x", 1<<20)))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("oversized body is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/attestations", strings.NewReader(strings.Repeat("x", 2<<20)))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})

	t.Run("no body passes", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/whitelist", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
