// responses.go -- JSON error and status responses shared by handlers and
// middleware. Every message here is a fixed string, never user input, so
// concatenating into the body is safe.
package auth

import "net/http"

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"message":"` + message + `"}`))
}

// InternalServerError logs err and answers with a generic 500. The real
// error stays in the logs.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// BadRequest answers 400 for malformed or invalid client input.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, http.StatusBadRequest, message)
}

// Unauthorized answers 401 with a Bearer challenge. Messages stay generic so
// failed logins read the same for unknown emails and wrong passwords.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeMessage(w, http.StatusUnauthorized, message)
}

// Forbidden answers 403 for authenticated callers missing a required role or
// flag.
func Forbidden(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusForbidden, message)
}

// NotFound answers 404. Rows owned by another user get the same response as
// rows that do not exist.
func NotFound(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusNotFound, message)
}

// Conflict answers 409 for unique-constraint violations.
func Conflict(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusConflict, message)
}

// TooManyRequests answers an empty 429.
func TooManyRequests(w http.ResponseWriter) {
	w.WriteHeader(http.StatusTooManyRequests)
}

// OK answers 200 with a message body.
func OK(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusOK, message)
}
