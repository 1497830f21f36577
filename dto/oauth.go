package dto

// OAuthCallbackRequest carries the authorization code forwarded by the web
// client after the provider consent redirect. Scope echoes the granted scopes
// for providers that report them.
type OAuthCallbackRequest struct {
	Code  string `json:"code" binding:"required"`
	Scope string `json:"scope"`
}

// OAuthCallbackResponse points the client at the post-connect continuation.
type OAuthCallbackResponse struct {
	IntegrationID string `json:"integrationId"`
	AccountID     string `json:"accountId"`
	DisplayName   string `json:"displayName"`
	Redirect      string `json:"redirect,omitempty"`
}
