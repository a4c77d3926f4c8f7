package navigation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type redirectRecorder struct {
	targets []string
}

func (r *redirectRecorder) RecordGuardRedirect(target string) {
	r.targets = append(r.targets, target)
}

func guardedHandler(authenticated bool, checks *int, rec Recorder) http.Handler {
	check := func(*http.Request) bool {
		*checks++
		return authenticated
	}
	return Guard(check, rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := RouteFromContext(r.Context())
		if !ok {
			http.Error(w, "no route", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(route.Name))
	}))
}

func TestGuard_RedirectsGuestToLogin(t *testing.T) {
	checks := 0
	rec := &redirectRecorder{}
	h := guardedHandler(false, &checks, rec)

	req := httptest.NewRequest(http.MethodGet, "/?cve=CVE-2021-44228", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/login?redirect=%2F%3Fcve%3DCVE-2021-44228", rr.Header().Get("Location"))
	assert.Equal(t, []string{"/login?redirect=%2F%3Fcve%3DCVE-2021-44228"}, rec.targets)
}

func TestGuard_RedirectsSignedInAwayFromGuestPages(t *testing.T) {
	checks := 0
	h := guardedHandler(true, &checks, nil)

	req := httptest.NewRequest(http.MethodGet, "/register", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
}

func TestGuard_ProceedsAndStoresRoute(t *testing.T) {
	checks := 0
	h := guardedHandler(true, &checks, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, PageHome, rr.Body.String())
}

func TestGuard_PublicRoutesSkipSessionCheck(t *testing.T) {
	checks := 0
	h := guardedHandler(false, &checks, nil)

	for _, path := range []string{"/privacy-policy", "/terms-of-service", "/missing"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
	assert.Zero(t, checks)
}
