package navigation

import (
	"context"
	"log/slog"
	"net/http"
)

type routeContextKey struct{}

// CheckFunc はリクエストのセッションが認証済みかを返す。
// 確認に失敗した場合はfalseを返すこと。
type CheckFunc func(r *http.Request) bool

// Recorder はガードによるリダイレクトを記録する。
type Recorder interface {
	RecordGuardRedirect(target string)
}

// Guard はルート表に従ってページ遷移を制御するミドルウェアを返す。
// 一致したルートはコンテキストに格納し、RouteFromContextで取得できる。
func Guard(check CheckFunc, recorder Recorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := Match(r.URL.Path)

			// 公開ルートはセッション確認を行わない
			if route.Access != AccessPublic {
				decision := Decide(route, check(r), r.URL.RequestURI())
				if !decision.Proceed() {
					if recorder != nil {
						recorder.RecordGuardRedirect(decision.RedirectTo)
					}
					slog.Debug("navigation redirected",
						slog.String("path", r.URL.Path),
						slog.String("redirect_to", decision.RedirectTo),
					)
					http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
					return
				}
			}

			ctx := context.WithValue(r.Context(), routeContextKey{}, route)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RouteFromContext はGuardが格納したルートを返す。
func RouteFromContext(ctx context.Context) (Route, bool) {
	route, ok := ctx.Value(routeContextKey{}).(Route)
	return route, ok
}
