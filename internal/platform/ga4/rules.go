package ga4

import "github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"

// Rules maps Google API status strings returned by the Admin and Data APIs.
var Rules = syncerr.Rules{
	{Codes: []string{"UNAUTHENTICATED"}, Code: syncerr.CodeTokenExpired},
	{Codes: []string{"PERMISSION_DENIED"}, Code: syncerr.CodePermissionDenied},
	{Codes: []string{"NOT_FOUND"}, Code: syncerr.CodeAccountNotFound},
	{Codes: []string{"RESOURCE_EXHAUSTED"}, Code: syncerr.CodeRateLimited},
	{Codes: []string{"INTERNAL", "UNAVAILABLE", "DEADLINE_EXCEEDED"}, Code: syncerr.CodeAPIError},
}
