package model

import "time"

// Tokens はIdPが発行したトークン一式を表す。
type Tokens struct {
	AccessToken     string
	IDToken         string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// Session はブラウザセッションに紐付くIdPトークンの永続化単位を表す。
// IDはセッションCookieの値。UsernameはIdP上のユーザー名でリフレッシュに使う。
type Session struct {
	ID        string
	Username  string
	Tokens    Tokens
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired はnow時点でセッションが期限切れかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AccessTokenExpired はアクセストークンがnow+skewの時点で失効しているかを返す。
func (s *Session) AccessTokenExpired(now time.Time, skew time.Duration) bool {
	if s.Tokens.AccessToken == "" {
		return true
	}
	return !now.Add(skew).Before(s.Tokens.AccessExpiresAt)
}
