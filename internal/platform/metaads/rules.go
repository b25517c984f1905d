package metaads

import "github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"

// Rules maps Graph API error codes and subcodes.
var Rules = syncerr.Rules{
	{Codes: []string{"190"}, Subcodes: []string{"467", "460", "458"}, Code: syncerr.CodeTokenInvalid},
	{Codes: []string{"190", "102"}, Code: syncerr.CodeTokenExpired},
	{Codes: []string{"4", "17", "32", "613", "80000", "80003", "80004"}, Code: syncerr.CodeRateLimited},
	{Codes: []string{"10", "200", "270", "272", "294"}, Code: syncerr.CodePermissionDenied},
	{Codes: []string{"100"}, Subcodes: []string{"33"}, Code: syncerr.CodeAccountNotFound},
	{Codes: []string{"803"}, Code: syncerr.CodeAccountNotFound},
	{Codes: []string{"1", "2"}, Code: syncerr.CodeAPIError},
}
