package googleads

import "github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"

// Rules maps Google Ads failures. The API reports a gRPC status in
// error.status and a typed reason in details[].errors[].errorCode.
var Rules = syncerr.Rules{
	{Codes: []string{"OAUTH_TOKEN_REVOKED", "OAUTH_TOKEN_INVALID", "OAUTH_TOKEN_DISABLED"}, Code: syncerr.CodeTokenInvalid},
	{Codes: []string{"OAUTH_TOKEN_EXPIRED", "UNAUTHENTICATED"}, Code: syncerr.CodeTokenExpired},
	{Codes: []string{"CUSTOMER_NOT_FOUND", "NOT_FOUND"}, Code: syncerr.CodeAccountNotFound},
	{Codes: []string{"CUSTOMER_NOT_ENABLED", "USER_PERMISSION_DENIED", "DEVELOPER_TOKEN_NOT_APPROVED", "PERMISSION_DENIED"}, Code: syncerr.CodePermissionDenied},
	{Codes: []string{"RESOURCE_EXHAUSTED", "RESOURCE_TEMPORARILY_EXHAUSTED"}, Code: syncerr.CodeRateLimited},
	{Codes: []string{"INTERNAL", "UNAVAILABLE", "DEADLINE_EXCEEDED", "TRANSIENT_ERROR"}, Code: syncerr.CodeAPIError},
}
