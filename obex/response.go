package obex

// OBEX response codes (IrOBEX 1.2, Section 3.2.1). Responses always carry
// the final bit, so the values below already include 0x80. ResponseContinue
// is the one non-terminal code: it means the current GET or PUT leg is not
// finished and another packet exchange must follow.
const (
	ResponseContinue = 0x90

	ResponseOK             = 0xA0
	ResponseCreated        = 0xA1
	ResponseAccepted       = 0xA2
	ResponseNoContent      = 0xA4
	ResponsePartialContent = 0xA6

	ResponseMultipleChoices = 0xB0
	ResponseMovedPermanent  = 0xB1
	ResponseNotModified     = 0xB4

	ResponseBadRequest       = 0xC0
	ResponseUnauthorized     = 0xC1
	ResponseForbidden        = 0xC3
	ResponseNotFound         = 0xC4
	ResponseNotAcceptable    = 0xC6
	ResponseTimeout          = 0xC8
	ResponseLengthRequired   = 0xCB
	ResponsePreconditionFail = 0xCC

	ResponseInternalError     = 0xD0
	ResponseNotImplemented    = 0xD1
	ResponseBadGateway        = 0xD2
	ResponseUnavailable       = 0xD3
	ResponseVersionNotSupport = 0xD5

	ResponseDatabaseFull   = 0xE0
	ResponseDatabaseLocked = 0xE1
)

// responseNone is the reply header's response code before any reply has
// been decoded for the operation.
const responseNone = -1

// ResponseNames maps response codes to human-readable names
var ResponseNames = map[int]string{
	ResponseContinue:          "Continue",
	ResponseOK:                "OK",
	ResponseCreated:           "Created",
	ResponseAccepted:          "Accepted",
	ResponseNoContent:         "No Content",
	ResponsePartialContent:    "Partial Content",
	ResponseMultipleChoices:   "Multiple Choices",
	ResponseMovedPermanent:    "Moved Permanently",
	ResponseNotModified:       "Not Modified",
	ResponseBadRequest:        "Bad Request",
	ResponseUnauthorized:      "Unauthorized",
	ResponseForbidden:         "Forbidden",
	ResponseNotFound:          "Not Found",
	ResponseNotAcceptable:     "Not Acceptable",
	ResponseTimeout:           "Request Timeout",
	ResponseLengthRequired:    "Length Required",
	ResponsePreconditionFail:  "Precondition Failed",
	ResponseInternalError:     "Internal Server Error",
	ResponseNotImplemented:    "Not Implemented",
	ResponseBadGateway:        "Bad Gateway",
	ResponseUnavailable:       "Service Unavailable",
	ResponseVersionNotSupport: "HTTP Version Not Supported",
	ResponseDatabaseFull:      "Database Full",
	ResponseDatabaseLocked:    "Database Locked",
}

// ResponseName returns a printable name for a response code.
func ResponseName(code int) string {
	if name, ok := ResponseNames[code]; ok {
		return name
	}
	return "Unknown Response"
}

// IsSuccess reports whether the code is a terminal success (2xx class).
func IsSuccess(code int) bool {
	return code >= ResponseOK && code < ResponseMultipleChoices
}
