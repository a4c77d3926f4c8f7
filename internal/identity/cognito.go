package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"

	"github.com/hitoshi/vulnerametrics/internal/model"
)

// cognitoAPI はCognitoIdentityProviderクライアントのうち使用するメソッド。
// テストではフェイク実装に差し替える。
type cognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	SignUp(ctx context.Context, params *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, params *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
	GetUser(ctx context.Context, params *cip.GetUserInput, optFns ...func(*cip.Options)) (*cip.GetUserOutput, error)
	GlobalSignOut(ctx context.Context, params *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
	ForgotPassword(ctx context.Context, params *cip.ForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ForgotPasswordOutput, error)
	ConfirmForgotPassword(ctx context.Context, params *cip.ConfirmForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ConfirmForgotPasswordOutput, error)
}

// CognitoConfig はCognitoユーザープールの設定。
type CognitoConfig struct {
	Region       string
	UserPoolID   string
	ClientID     string
	ClientSecret string
	// テスト用にオーバーライド可能なエンドポイント
	Endpoint string
}

// CognitoProvider はAWS Cognitoユーザープールを使用するProvider実装。
type CognitoProvider struct {
	api          cognitoAPI
	clientID     string
	clientSecret string
	now          func() time.Time
}

// NewCognitoProvider はAWS SDKのデフォルト設定からCognitoProviderを生成する。
func NewCognitoProvider(ctx context.Context, cfg CognitoConfig) (*CognitoProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := cip.NewFromConfig(awsCfg, func(o *cip.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newCognitoProvider(client, cfg.ClientID, cfg.ClientSecret), nil
}

func newCognitoProvider(api cognitoAPI, clientID, clientSecret string) *CognitoProvider {
	return &CognitoProvider{
		api:          api,
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

// secretHash はクライアントシークレット設定時に必要なSECRET_HASHを計算する。
// 未設定の場合はnilを返す。
func (p *CognitoProvider) secretHash(username string) *string {
	if p.clientSecret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(p.clientSecret))
	mac.Write([]byte(username + p.clientID))
	return aws.String(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func (p *CognitoProvider) authParameters(username string, params map[string]string) map[string]string {
	if hash := p.secretHash(username); hash != nil {
		params["SECRET_HASH"] = *hash
	}
	return params
}

// SignIn はUSER_PASSWORD_AUTHフローでサインインする。
// チャレンジが返された場合と未確認ユーザーの場合は未完了として返す。
func (p *CognitoProvider) SignIn(ctx context.Context, username, password string) (*SignInResult, error) {
	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(p.clientID),
		AuthParameters: p.authParameters(username, map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		}),
	})
	if err != nil {
		mapped := mapCognitoError(err)
		if errors.Is(mapped, model.ErrNotConfirmed) {
			return &SignInResult{Complete: false, NextStep: StepConfirmSignUp}, nil
		}
		return nil, mapped
	}

	if out.AuthenticationResult == nil {
		return &SignInResult{Complete: false, NextStep: string(out.ChallengeName)}, nil
	}

	tokens := p.tokensFrom(out.AuthenticationResult, "")
	poolUsername, err := p.poolUsername(ctx, username, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	return &SignInResult{
		Complete: true,
		NextStep: StepDone,
		Tokens:   tokens,
		Username: poolUsername,
	}, nil
}

// poolUsername はREFRESH_TOKEN_AUTHのSECRET_HASHに使うユーザー名を返す。
// メールアドレスをユーザー名とするプールでは実際のユーザー名はsubになるため、
// クライアントシークレット設定時はGetUserで取得する。
func (p *CognitoProvider) poolUsername(ctx context.Context, alias, accessToken string) (string, error) {
	if p.clientSecret == "" {
		return alias, nil
	}
	out, err := p.api.GetUser(ctx, &cip.GetUserInput{AccessToken: aws.String(accessToken)})
	if err != nil {
		return "", mapCognitoError(err)
	}
	if name := aws.ToString(out.Username); name != "" {
		return name, nil
	}
	return alias, nil
}

// SignUp はユーザーを登録する。確認が必要な場合はCONFIRM_SIGN_UPを返す。
func (p *CognitoProvider) SignUp(ctx context.Context, username, password string, attributes map[string]string) (*SignUpResult, error) {
	attrs := make([]types.AttributeType, 0, len(attributes))
	for name, value := range attributes {
		attrs = append(attrs, types.AttributeType{Name: aws.String(name), Value: aws.String(value)})
	}

	out, err := p.api.SignUp(ctx, &cip.SignUpInput{
		ClientId:       aws.String(p.clientID),
		Username:       aws.String(username),
		Password:       aws.String(password),
		SecretHash:     p.secretHash(username),
		UserAttributes: attrs,
	})
	if err != nil {
		return nil, mapCognitoError(err)
	}

	result := &SignUpResult{
		UserID:   aws.ToString(out.UserSub),
		Complete: out.UserConfirmed,
		NextStep: StepDone,
	}
	if !out.UserConfirmed {
		result.NextStep = StepConfirmSignUp
	}
	return result, nil
}

// ConfirmSignUp は登録確認コードを検証する。
func (p *CognitoProvider) ConfirmSignUp(ctx context.Context, username, code string) error {
	_, err := p.api.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(p.clientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
		SecretHash:       p.secretHash(username),
	})
	if err != nil {
		return mapCognitoError(err)
	}
	return nil
}

// GetUser はアクセストークンからユーザー情報と属性を取得する。
// UserIDにはsub属性を使用する。
func (p *CognitoProvider) GetUser(ctx context.Context, accessToken string) (*User, error) {
	out, err := p.api.GetUser(ctx, &cip.GetUserInput{AccessToken: aws.String(accessToken)})
	if err != nil {
		return nil, mapCognitoError(err)
	}

	user := &User{
		Username:   aws.ToString(out.Username),
		Attributes: make(map[string]string, len(out.UserAttributes)),
	}
	for _, attr := range out.UserAttributes {
		user.Attributes[aws.ToString(attr.Name)] = aws.ToString(attr.Value)
	}
	user.UserID = user.Attributes["sub"]
	if user.UserID == "" {
		user.UserID = user.Username
	}
	return user, nil
}

// Refresh はリフレッシュトークンでアクセストークンを再発行する。
// usernameはSignInResult.Usernameで返したプール上のユーザー名。
// 新しいリフレッシュトークンが返らない場合は元のものを引き継ぐ。
func (p *CognitoProvider) Refresh(ctx context.Context, username, refreshToken string) (*model.Tokens, error) {
	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeRefreshTokenAuth,
		ClientId: aws.String(p.clientID),
		AuthParameters: p.authParameters(username, map[string]string{
			"REFRESH_TOKEN": refreshToken,
		}),
	})
	if err != nil {
		return nil, mapCognitoError(err)
	}
	if out.AuthenticationResult == nil {
		return nil, &model.ProviderError{Kind: model.ErrProviderRejected, Message: "token refresh returned no tokens"}
	}
	return p.tokensFrom(out.AuthenticationResult, refreshToken), nil
}

// GlobalSignOut は全デバイスのトークンを失効させる。
func (p *CognitoProvider) GlobalSignOut(ctx context.Context, accessToken string) error {
	_, err := p.api.GlobalSignOut(ctx, &cip.GlobalSignOutInput{AccessToken: aws.String(accessToken)})
	if err != nil {
		return mapCognitoError(err)
	}
	return nil
}

// ForgotPassword はパスワードリセット用の確認コードを送信する。
func (p *CognitoProvider) ForgotPassword(ctx context.Context, username string) error {
	_, err := p.api.ForgotPassword(ctx, &cip.ForgotPasswordInput{
		ClientId:   aws.String(p.clientID),
		Username:   aws.String(username),
		SecretHash: p.secretHash(username),
	})
	if err != nil {
		return mapCognitoError(err)
	}
	return nil
}

// ConfirmForgotPassword は確認コードと新しいパスワードでリセットを完了する。
func (p *CognitoProvider) ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error {
	_, err := p.api.ConfirmForgotPassword(ctx, &cip.ConfirmForgotPasswordInput{
		ClientId:         aws.String(p.clientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
		Password:         aws.String(newPassword),
		SecretHash:       p.secretHash(username),
	})
	if err != nil {
		return mapCognitoError(err)
	}
	return nil
}

func (p *CognitoProvider) tokensFrom(res *types.AuthenticationResultType, fallbackRefresh string) *model.Tokens {
	tokens := &model.Tokens{
		AccessToken:     aws.ToString(res.AccessToken),
		IDToken:         aws.ToString(res.IdToken),
		RefreshToken:    aws.ToString(res.RefreshToken),
		AccessExpiresAt: p.now().Add(time.Duration(res.ExpiresIn) * time.Second),
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = fallbackRefresh
	}
	return tokens
}

// cognitoErrorKinds はCognitoのエラーコードとエラー分類の対応。
var cognitoErrorKinds = map[string]error{
	"NotAuthorizedException":                model.ErrInvalidCredential,
	"UserNotConfirmedException":             model.ErrNotConfirmed,
	"CodeMismatchException":                 model.ErrInvalidCode,
	"ExpiredCodeException":                  model.ErrExpiredCode,
	"InvalidPasswordException":              model.ErrInvalidPassword,
	"UserNotFoundException":                 model.ErrUserNotFound,
	"UsernameExistsException":               model.ErrUsernameExists,
	"AliasExistsException":                  model.ErrUsernameExists,
	"LimitExceededException":                model.ErrThrottled,
	"TooManyRequestsException":              model.ErrThrottled,
	"TooManyFailedAttemptsException":        model.ErrThrottled,
	"CodeDeliveryFailureException":          model.ErrProviderRejected,
	"InvalidParameterException":             model.ErrProviderRejected,
	"PasswordResetRequiredException":        model.ErrProviderRejected,
	"UserLambdaValidationException":         model.ErrProviderRejected,
	"InvalidLambdaResponseException":        model.ErrProviderRejected,
	"UnexpectedLambdaException":             model.ErrProviderRejected,
	"ResourceNotFoundException":             model.ErrProviderRejected,
	"InternalErrorException":                model.ErrProviderRejected,
	"InvalidUserPoolConfigurationException": model.ErrProviderRejected,
}

// mapCognitoError はSDKのエラーをProviderErrorまたはNetworkErrorに変換する。
// APIエラーとして応答が得られなかったものは通信エラーとして扱う。
func mapCognitoError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		slog.Warn("identity provider unreachable",
			slog.String("event", "cognito_network_error"),
			slog.String("error", err.Error()),
		)
		return &model.NetworkError{Cause: err}
	}

	kind, ok := cognitoErrorKinds[apiErr.ErrorCode()]
	if !ok {
		kind = model.ErrProviderRejected
	}
	return &model.ProviderError{Kind: kind, Message: apiErr.ErrorMessage()}
}

// compile-time interface check
var _ Provider = (*CognitoProvider)(nil)
