// Package errors provides structured error handling for admission, relay and
// assistant failures.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Admission errors
	CodeProjectIDInvalid          Code = "PROJECT_ID_INVALID"
	CodeCredentialMissing         Code = "CREDENTIAL_MISSING"
	CodeCredentialInvalid         Code = "CREDENTIAL_INVALID"
	CodeCredentialExpired         Code = "CREDENTIAL_EXPIRED"
	CodeCredentialRevoked         Code = "CREDENTIAL_REVOKED"
	CodeProjectNotFound           Code = "PROJECT_NOT_FOUND"
	CodeProjectMembershipRequired Code = "PROJECT_MEMBERSHIP_REQUIRED"
	CodeAdmissionUnavailable      Code = "ADMISSION_UNAVAILABLE"
	CodeOriginNotAllowed          Code = "ORIGIN_NOT_ALLOWED"

	// Frame errors
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"

	// Assistant errors
	CodeAssistantTimeout     Code = "ASSISTANT_TIMEOUT"
	CodeAssistantFailed      Code = "ASSISTANT_FAILED"
	CodeAssistantPromptEmpty Code = "ASSISTANT_PROMPT_EMPTY"
	CodeAssistantBusy        Code = "ASSISTANT_BUSY"

	// File tree errors
	CodeFilePathInvalid  Code = "FILE_PATH_INVALID"
	CodeFileTooLarge     Code = "FILE_TOO_LARGE"
	CodeFileSaveFailed   Code = "FILE_SAVE_FAILED"
	CodeFileTreeNotReady Code = "FILE_TREE_UNAVAILABLE"
)

// HTTPStatus maps domain codes to the status returned by the handshake hook.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeProjectIDInvalid,
		CodeInvalidArgument,
		CodeFilePathInvalid,
		CodeAssistantPromptEmpty:
		return http.StatusBadRequest

	case CodeCredentialMissing,
		CodeCredentialInvalid,
		CodeCredentialExpired,
		CodeCredentialRevoked:
		return http.StatusUnauthorized

	case CodeProjectMembershipRequired,
		CodeOriginNotAllowed:
		return http.StatusForbidden

	case CodeProjectNotFound:
		return http.StatusNotFound

	case CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge

	case CodeResourceExhausted,
		CodeAssistantBusy:
		return http.StatusTooManyRequests

	case CodeAssistantTimeout:
		return http.StatusGatewayTimeout

	case CodeAdmissionUnavailable,
		CodeFileTreeNotReady:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// IsAdmission reports whether the code refuses a connection at handshake.
func (c Code) IsAdmission() bool {
	switch c {
	case CodeProjectIDInvalid,
		CodeCredentialMissing,
		CodeCredentialInvalid,
		CodeCredentialExpired,
		CodeCredentialRevoked,
		CodeProjectNotFound,
		CodeProjectMembershipRequired,
		CodeAdmissionUnavailable,
		CodeOriginNotAllowed:
		return true
	default:
		return false
	}
}
