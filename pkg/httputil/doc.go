// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, stats)
//	httputil.WriteNoContent(w)
//	httputil.WriteServiceUnavailable(w, "view could not be recorded")
//
// # Request Parsing
//
//	itemID, ok := httputil.ParseItemIDOrError(w, r, "id")
//	if !ok {
//		return // 400 already written
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(log),
//		httputil.RecoveryMiddleware,
//	)(router)
//
// RequestIDMiddleware must run before LoggingMiddleware for log lines to carry
// the request_id field.
package httputil
