// Package navigation はページのルート表と認証状態によるアクセス制御を提供する。
package navigation

import (
	"net/url"
	"strings"
)

// Access はルートのアクセス条件。
type Access int

const (
	// AccessPublic は認証状態を問わない。
	AccessPublic Access = iota
	// AccessRequiresAuth は認証済みのみ。
	AccessRequiresAuth
	// AccessRequiresGuest は未認証のみ。
	AccessRequiresGuest
)

// ページ名。
const (
	PageHome                = "Home"
	PageLogin               = "Login"
	PageRegister            = "Register"
	PageConfirmRegistration = "ConfirmRegistration"
	PageForgotPassword      = "ForgotPassword"
	PageResetPassword       = "ResetPassword"
	PagePrivacyPolicy       = "PrivacyPolicy"
	PageTermsOfService      = "TermsOfService"
	PageNotFound            = "NotFound"
)

// 遷移先のパス。
const (
	HomePath  = "/"
	LoginPath = "/login"
)

// Route はページのルート定義。
type Route struct {
	Path   string
	Name   string
	Title  string
	Access Access
}

// Routes はページのルート表。
var Routes = []Route{
	{Path: "/", Name: PageHome, Title: "Home", Access: AccessRequiresAuth},
	{Path: "/login", Name: PageLogin, Title: "Sign in", Access: AccessRequiresGuest},
	{Path: "/register", Name: PageRegister, Title: "Create account", Access: AccessRequiresGuest},
	{Path: "/confirm-registration", Name: PageConfirmRegistration, Title: "Confirm registration", Access: AccessRequiresGuest},
	{Path: "/forgot-password", Name: PageForgotPassword, Title: "Forgot password", Access: AccessRequiresGuest},
	{Path: "/reset-password", Name: PageResetPassword, Title: "Reset password", Access: AccessRequiresGuest},
	{Path: "/privacy-policy", Name: PagePrivacyPolicy, Title: "Privacy policy", Access: AccessPublic},
	{Path: "/terms-of-service", Name: PageTermsOfService, Title: "Terms of service", Access: AccessPublic},
}

// NotFoundRoute はルート表に一致しないパスのルート。
var NotFoundRoute = Route{Name: PageNotFound, Title: "Page not found", Access: AccessPublic}

// Match はパスに一致するルートを返す。末尾のスラッシュは無視する。
func Match(path string) Route {
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	for _, r := range Routes {
		if r.Path == path {
			return r
		}
	}
	return NotFoundRoute
}

// Decision は遷移判定の結果。RedirectToが空なら遷移を続行する。
type Decision struct {
	RedirectTo string
}

// Proceed は遷移を続行するかを返す。
func (d Decision) Proceed() bool {
	return d.RedirectTo == ""
}

// Decide はルートと認証状態から遷移を判定する。
// 認証が必要なルートに未認証で遷移した場合は、元のパスをredirectクエリに付けてログインへ誘導する。
// 未認証専用ルートに認証済みで遷移した場合はホームへ誘導する。
func Decide(route Route, authenticated bool, fullPath string) Decision {
	switch {
	case route.Access == AccessRequiresAuth && !authenticated:
		q := url.Values{"redirect": {fullPath}}
		return Decision{RedirectTo: LoginPath + "?" + q.Encode()}
	case route.Access == AccessRequiresGuest && authenticated:
		return Decision{RedirectTo: HomePath}
	default:
		return Decision{}
	}
}

// SafeRedirect はログイン後の遷移先として安全なパスを返す。
// 同一オリジンの絶対パス以外はホームに置き換える。
func SafeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return HomePath
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return HomePath
	}
	return target
}
