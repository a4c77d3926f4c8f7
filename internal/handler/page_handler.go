package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/vulnerametrics/internal/auth"
	"github.com/hitoshi/vulnerametrics/internal/middleware"
	"github.com/hitoshi/vulnerametrics/internal/navigation"
	"github.com/hitoshi/vulnerametrics/internal/notification"
	"github.com/hitoshi/vulnerametrics/internal/validation"
)

//go:embed templates/*.html
var templateFS embed.FS

// pageTemplates はページ名ごとのテンプレート。
var pageTemplates = mustParsePages()

func mustParsePages() map[string]*template.Template {
	base := template.Must(template.ParseFS(templateFS, "templates/*.html"))

	names := []string{navigation.PageNotFound}
	for _, r := range navigation.Routes {
		names = append(names, r.Name)
	}

	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t := template.Must(base.Clone())
		template.Must(t.Parse(`{{define "content"}}{{template "` + name + `" .}}{{end}}`))
		pages[name] = t
	}
	return pages
}

// pageData はテンプレートに渡す値。
type pageData struct {
	Title         string
	Page          string
	User          *auth.Identity
	Notifications []notification.Notification
	Redirect      string
	Email         string
}

// PageHandler はルート表に載ったページを描画する。
// アクセス制御はnavigation.Guardが行う。
type PageHandler struct {
	now func() time.Time
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler() *PageHandler {
	return &PageHandler{now: time.Now}
}

// CheckSession はナビゲーションガード用にセッションを確認する。
// 確認に失敗した場合は未認証として扱う。
func (h *PageHandler) CheckSession(r *http.Request) bool {
	ws, err := middleware.WorkspaceFromContext(r.Context())
	if err != nil {
		return false
	}
	return ws.Auth.CheckSession(r.Context()) == nil
}

// ServeHTTP はガードが格納したルートのページを描画する。
func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := navigation.RouteFromContext(r.Context())
	if !ok {
		route = navigation.Match(r.URL.Path)
	}

	data := pageData{
		Title:    route.Title,
		Page:     route.Name,
		Redirect: navigation.SafeRedirect(r.URL.Query().Get("redirect")),
		Email:    validation.SanitizeInput(r.URL.Query().Get("email")),
	}

	if ws, err := middleware.WorkspaceFromContext(r.Context()); err == nil {
		if st := ws.Auth.State(); st.IsAuthenticated() {
			data.User = st.User
		}
		ws.Notifications.PruneExpired(h.now())
		data.Notifications = ws.Notifications.List()
	}

	tmpl, ok := pageTemplates[route.Name]
	if !ok {
		tmpl = pageTemplates[navigation.PageNotFound]
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", route.Name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	status := http.StatusOK
	if route.Name == navigation.PageNotFound {
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
