package handler

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// VulnHandler は脆弱性情報APIの中継ハンドラー。
type VulnHandler struct{}

// NewVulnHandler はVulnHandlerを生成する。
func NewVulnHandler() *VulnHandler {
	return &VulnHandler{}
}

type creditsResponse struct {
	Balance float64 `json:"balance"`
}

// Credits はクレジット残高を取得する。失敗時はエラー通知も積まれる。
// GET /api/credits
func (h *VulnHandler) Credits(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	balance, err := ws.Credits.Fetch(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, creditsResponse{Balance: balance})
}

// CveDetails はCVE詳細を取得する。識別子の形式が不正な場合は上流に問い合わせない。
// GET /api/cve/{id}
func (h *VulnHandler) CveDetails(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	details, err := ws.API.GetCveDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// GenerateReport はレポートを生成する。
// レポート本体が返った場合は添付ファイルとして返し、受付結果の場合は202で返す。
// POST /api/report/{id}
func (h *VulnHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	report, err := ws.API.GenerateReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if report.Acknowledgment != nil {
		writeJSON(w, http.StatusAccepted, report.Acknowledgment)
		return
	}

	artifact := report.Artifact
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Data)
}
