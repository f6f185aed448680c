package errs

const (
	ServerInternalError = 500

	ArgsError   = 1001
	DecodeError = 1002

	UnauthenticatedError = 1101
	TokenExpiredError    = 1102

	AuthorizationError = 1201

	NotFoundError = 1301

	DuplicateSubscriptionError = 1401
	UnknownDestinationError    = 1402

	TransientStoreError = 1501
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")

	ErrArgs   = NewCodeError(ArgsError, "ArgsError")
	ErrDecode = NewCodeError(DecodeError, "DecodeError")

	ErrUnauthenticated = NewCodeError(UnauthenticatedError, "UnauthenticatedError")
	ErrTokenExpired    = NewCodeError(TokenExpiredError, "TokenExpiredError")

	ErrAuthorization = NewCodeError(AuthorizationError, "AuthorizationError")

	ErrNotFound = NewCodeError(NotFoundError, "NotFoundError")

	ErrDuplicateSubscription = NewCodeError(DuplicateSubscriptionError, "DuplicateSubscriptionError")
	ErrUnknownDestination    = NewCodeError(UnknownDestinationError, "UnknownDestinationError")

	ErrTransientStore = NewCodeError(TransientStoreError, "TransientStoreError")
)

func init() {
	// an expired token is still an authentication failure
	_ = DefaultCodeRelation.Add(UnauthenticatedError, TokenExpiredError)
}
