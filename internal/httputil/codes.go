package httputil

// Machine-readable error codes carried alongside the human message.
const (
	CodeInvalidRequestBody = "invalid_request_body"
	CodeInternalError      = "internal_error"
	CodeTooManyRequests    = "too_many_requests"

	CodeEmailRequired      = "email_required"
	CodeInvalidEmailFormat = "invalid_email_format"
	CodePasswordRequired   = "password_required"
	CodePasswordTooShort   = "password_too_short"
	CodePasswordMismatch   = "password_mismatch"
	CodeEmailAlreadyExists = "email_already_exists"

	CodeInvalidCredentials = "invalid_credentials"
	CodeEmailNotVerified   = "email_not_verified"

	CodeInvalidVerificationToken = "invalid_verification_token"

	CodeInvalidLinkToken   = "invalid_link_token"
	CodeAccountNotFound    = "account_not_found"
	CodeInvalidPassword    = "invalid_password"
	CodeMissingAccountData = "missing_account_data"

	CodeMissingAuth    = "missing_auth"
	CodeInvalidSession = "invalid_session"
	CodeForbidden      = "forbidden"
)
