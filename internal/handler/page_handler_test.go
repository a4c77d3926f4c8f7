package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/vulnerametrics/internal/navigation"
)

type recordingGuardRecorder struct {
	targets []string
}

func (r *recordingGuardRecorder) RecordGuardRedirect(target string) {
	r.targets = append(r.targets, target)
}

func servePage(t *testing.T, id *fakeIdentity, path string) (*httptest.ResponseRecorder, *recordingGuardRecorder) {
	t.Helper()
	ws := newTestWorkspace(id, unreachableAPI(t))
	ph := NewPageHandler()
	rec := &recordingGuardRecorder{}
	h := navigation.Guard(ph.CheckSession, rec)(ph)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, withWorkspace(httptest.NewRequest(http.MethodGet, path, nil), ws))
	return w, rec
}

func TestPageHandler_ProtectedRedirectsToLogin(t *testing.T) {
	w, rec := servePage(t, &fakeIdentity{}, "/")

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/login?redirect=%2F" {
		t.Errorf("Location = %q, want %q", loc, "/login?redirect=%2F")
	}
	if len(rec.targets) != 1 {
		t.Errorf("recorded redirects = %v", rec.targets)
	}
}

func TestPageHandler_GuestPageRedirectsHome(t *testing.T) {
	w, _ := servePage(t, signedInIdentity(), "/register")

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestPageHandler_RendersHomeForAuthenticated(t *testing.T) {
	w, _ := servePage(t, signedInIdentity(), "/")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !containsAll(body, `data-page="Home"`, "alice@example.com", "Sign out", "<title>Home | VulneraMetrics</title>") {
		t.Errorf("unexpected body:\n%s", body)
	}
}

func TestPageHandler_LoginKeepsSafeRedirectOnly(t *testing.T) {
	w, _ := servePage(t, &fakeIdentity{}, "/login?redirect=%2Freports%3Fid%3D1")
	if !strings.Contains(w.Body.String(), `value="/reports?id=1"`) {
		t.Errorf("redirect not rendered:\n%s", w.Body.String())
	}

	w, _ = servePage(t, &fakeIdentity{}, "/login?redirect=https%3A%2F%2Fevil.example.com")
	if strings.Contains(w.Body.String(), "evil.example.com") {
		t.Error("external redirect must not be rendered")
	}
}

func TestPageHandler_PublicPagesSkipSessionCheck(t *testing.T) {
	id := &fakeIdentity{}
	w, _ := servePage(t, id, "/privacy-policy")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if id.called("CurrentUser") {
		t.Error("public page should not check the session")
	}
}

func TestPageHandler_UnknownPathIsNotFound(t *testing.T) {
	w, _ := servePage(t, &fakeIdentity{}, "/no/such/page")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if !strings.Contains(w.Body.String(), "Page not found") {
		t.Errorf("unexpected body:\n%s", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestPageHandler_RendersNotifications(t *testing.T) {
	id := &fakeIdentity{}
	ws := newTestWorkspace(id, unreachableAPI(t))
	ws.Notifications.ShowError("Something <i>went</i> wrong", 0)

	w := httptest.NewRecorder()
	NewPageHandler().ServeHTTP(w, withWorkspace(httptest.NewRequest(http.MethodGet, "/terms-of-service", nil), ws))

	if !containsAll(w.Body.String(), `class="notification error"`, "Something went wrong") {
		t.Errorf("notification not rendered:\n%s", w.Body.String())
	}
}
