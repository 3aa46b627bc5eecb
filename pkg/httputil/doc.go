// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, state)
//	httputil.WriteErrorCode(w, http.StatusConflict, "incompatible_role", err.Error())
//	httputil.WriteUnauthorized(w, "authentication required")
//
// Every error body has the same shape:
//
//	{"error": "incompatible_role", "message": "..."}
//
// # Request Parsing
//
//	var req SetPrimaryRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	role, ok := httputil.ParsePathStringOrError(w, r, "role")
//	path := httputil.ParseQueryString(r, "path", "/")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.MaxBytesMiddleware(64*1024),
//		httputil.ContentTypeMiddleware,
//	)(router)
//
// Request IDs, logging and panic recovery live in pkg/middleware, which has
// access to the structured logger.
package httputil
