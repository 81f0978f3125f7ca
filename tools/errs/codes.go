package errs

const (
	ServerInternalError = 500

	ArgsError         = 1001
	RecordNotFound    = 1004
	TokenInvalidError = 1501

	// transport: handled by the reconnection controller, never shown to the user
	TransportError        = 2000
	TransportNotOpenError = 2001
	TransportClosedError  = 2002
	TransportDialError    = 2003

	// compose failures surface as a failed pending message
	SendFailureError     = 3000
	ComposeRejectedError = 3001

	// one unparseable frame/response; dropped and logged
	MalformedPayloadError = 4000
)

var (
	ErrInternalServer   = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs             = NewCodeError(ArgsError, "ArgsError")
	ErrRecordNotFound   = NewCodeError(RecordNotFound, "RecordNotFoundError")
	ErrTokenInvalid     = NewCodeError(TokenInvalidError, "TokenInvalidError")
	ErrTransport        = NewCodeError(TransportError, "TransportError")
	ErrTransportNotOpen = NewCodeError(TransportNotOpenError, "TransportNotOpen")
	ErrTransportClosed  = NewCodeError(TransportClosedError, "TransportClosed")
	ErrTransportDial    = NewCodeError(TransportDialError, "TransportDialError")
	ErrSendFailure      = NewCodeError(SendFailureError, "SendFailure")
	ErrComposeRejected  = NewCodeError(ComposeRejectedError, "ComposeRejected")
	ErrMalformedPayload = NewCodeError(MalformedPayloadError, "MalformedPayload")
)

func init() {
	_ = DefaultCodeRelation.Add(TransportError, TransportNotOpenError)
	_ = DefaultCodeRelation.Add(TransportError, TransportClosedError)
	_ = DefaultCodeRelation.Add(TransportError, TransportDialError)
	_ = DefaultCodeRelation.Add(SendFailureError, ComposeRejectedError)
}
