// Package httputil provides HTTP helpers shared by every tenantguard handler:
// JSON encoding, error mapping, query parsing and request middleware.
//
// Errors returned by services go through WriteAppError, which maps the
// apperr category to a status code and never echoes internal error text:
//
//	if err != nil {
//		httputil.WriteAppError(w, r, err)
//		return
//	}
//
// Query parsing reports failures as apperr.ErrInvalidQuery with field detail:
//
//	page, err := httputil.ParseQueryInt(r, "page", 1)
//	end, err := httputil.ParseQueryDate(r, "end_date", true)
package httputil
