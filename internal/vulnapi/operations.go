package vulnapi

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"github.com/hitoshi/vulnerametrics/internal/model"
)

// cveIDPattern はCVE識別子の形式。大文字小文字は区別しない。
var cveIDPattern = regexp.MustCompile(`(?i)^CVE-\d{4}-\d{4,}$`)

// Credits はクレジット残高。
type Credits struct {
	Balance float64 `json:"balance"`
}

// CveDetails はCVE詳細。構造は上流のレスポンスをそのまま保持する。
type CveDetails map[string]any

// Artifact はレポートのバイナリ本体。
type Artifact struct {
	ContentType string
	Filename    string
	Data        []byte
}

// Acknowledgment はレポート生成要求の受付結果。
type Acknowledgment struct {
	Message   string `json:"message"`
	ReportKey string `json:"reportKey"`
	CveID     string `json:"cveId"`
	Timestamp string `json:"timestamp"`
}

// Report はレポート生成の結果。ArtifactとAcknowledgmentのどちらか一方のみ設定される。
type Report struct {
	Artifact       *Artifact
	Acknowledgment *Acknowledgment
}

// ValidateCveID はCVE識別子の形式を検証する。不正な場合は*model.ValidationErrorを返す。
func ValidateCveID(id string) error {
	if !cveIDPattern.MatchString(id) {
		return &model.ValidationError{
			Field:   "cveId",
			Message: "Invalid CVE ID format. Expected format: CVE-YYYY-NNNN",
			Code:    "400",
		}
	}
	return nil
}

// CheckCredits はクレジット残高を取得する。
func (s *Session) CheckCredits(ctx context.Context) (*Credits, error) {
	resp, err := s.do(ctx, http.MethodGet, "/credits/check", "credits")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Balance       *float64 `json:"balance"`
		CreditBalance *float64 `json:"creditBalance"`
	}
	if err := decodeJSON(resp.Body(), &payload); err != nil {
		return nil, err
	}

	switch {
	case payload.Balance != nil:
		return &Credits{Balance: *payload.Balance}, nil
	case payload.CreditBalance != nil:
		return &Credits{Balance: *payload.CreditBalance}, nil
	default:
		return nil, fmt.Errorf("%w: missing balance", ErrInvalidResponse)
	}
}

// GetCveDetails はCVE詳細を取得する。識別子が不正な場合は通信しない。
func (s *Session) GetCveDetails(ctx context.Context, id string) (CveDetails, error) {
	if err := ValidateCveID(id); err != nil {
		return nil, err
	}

	resp, err := s.do(ctx, http.MethodGet, "/cve/"+id, "cve")
	if err != nil {
		return nil, err
	}

	var details CveDetails
	if err := decodeJSON(resp.Body(), &details); err != nil {
		return nil, err
	}
	return details, nil
}

// GenerateReport はレポートを生成する。識別子が不正な場合は通信しない。
// JSONレスポンスは受付結果、それ以外はレポート本体として扱う。
func (s *Session) GenerateReport(ctx context.Context, id string) (*Report, error) {
	if err := ValidateCveID(id); err != nil {
		return nil, err
	}

	resp, err := s.do(ctx, http.MethodPost, "/report/"+id, "report")
	if err != nil {
		return nil, err
	}

	contentType := resp.Header().Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if mediaType == "application/json" {
		var ack Acknowledgment
		if err := decodeJSON(resp.Body(), &ack); err != nil {
			return nil, err
		}
		return &Report{Acknowledgment: &ack}, nil
	}

	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return &Report{
		Artifact: &Artifact{
			ContentType: mediaType,
			Filename:    reportFilename(id, mediaType, resp.Header().Get("Content-Disposition")),
			Data:        resp.Body(),
		},
	}, nil
}

// reportFilename はContent-Dispositionのfilenameを優先し、
// なければCVE識別子とメディアタイプから生成する。
func reportFilename(id, mediaType, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}

	name := strings.ToUpper(id) + "-report"
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return name + exts[0]
	}
	return name
}
