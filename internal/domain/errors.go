package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Pair them with NewSubSystemError for subsystem-specific codes.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrToolNotFound     = fmt.Errorf("tool not found")
	ErrToolFailure      = fmt.Errorf("tool execution failed")
	ErrMaxIterations    = fmt.Errorf("agent reached max iterations")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")

	// Runtime errors.
	ErrNoSubscriber  = fmt.Errorf("no subscriber for topic")
	ErrRuntimeClosed = fmt.Errorf("runtime closed")
	ErrUnknownActor  = fmt.Errorf("actor type not registered")

	// Connection and assignment errors.
	ErrCustomerNotConnected = fmt.Errorf("customer not connected")
	ErrOperatorNotConnected = fmt.Errorf("operator not connected")
	ErrNoOperatorAvailable  = fmt.Errorf("no operator available")
	ErrAlreadyAssigned      = fmt.Errorf("customer already assigned")
	ErrNotAssigned          = fmt.Errorf("customer not assigned to operator")
	ErrTransportClosed      = fmt.Errorf("transport closed")

	// Transfer errors.
	ErrUnknownTransferCommand = fmt.Errorf("unknown transfer command")

	// Resilience errors.
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")

	// Gateway errors.
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Specialist.Handle")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "actor", "operator"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown               ErrorCode = "UNKNOWN"
	CodeProviderNotFound      ErrorCode = "PROVIDER_NOT_FOUND"
	CodeToolNotFound          ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure           ErrorCode = "TOOL_FAILURE"
	CodeMaxIterations         ErrorCode = "MAX_ITERATIONS"
	CodeConfigLoad            ErrorCode = "CONFIG_LOAD"
	CodeNoSubscriber          ErrorCode = "NO_SUBSCRIBER"
	CodeRuntimeClosed         ErrorCode = "RUNTIME_CLOSED"
	CodeUnknownActor          ErrorCode = "UNKNOWN_ACTOR"
	CodeCustomerNotConnected  ErrorCode = "CUSTOMER_NOT_CONNECTED"
	CodeOperatorNotConnected  ErrorCode = "OPERATOR_NOT_CONNECTED"
	CodeNoOperatorAvailable   ErrorCode = "NO_OPERATOR_AVAILABLE"
	CodeAlreadyAssigned       ErrorCode = "ALREADY_ASSIGNED"
	CodeNotAssigned           ErrorCode = "NOT_ASSIGNED"
	CodeTransportClosed       ErrorCode = "TRANSPORT_CLOSED"
	CodeUnknownTransferCmd    ErrorCode = "UNKNOWN_TRANSFER_COMMAND"
	CodeRateLimit             ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid           ErrorCode = "AUTH_INVALID"
	CodeGatewayAuth           ErrorCode = "GATEWAY_AUTH"
	CodeOperatorDuplicate     ErrorCode = "OPERATOR_DUPLICATE"
	CodeActorDuplicate        ErrorCode = "ACTOR_DUPLICATE"
	CodeOperatorDeliveryTimed ErrorCode = "OPERATOR_DELIVERY_TIMEOUT"
	CodeInferenceTimeout      ErrorCode = "INFERENCE_TIMEOUT"

	// Category error codes, used when no subsystem-specific code matches.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,

	ErrProviderNotFound:       CodeProviderNotFound,
	ErrToolNotFound:           CodeToolNotFound,
	ErrToolFailure:            CodeToolFailure,
	ErrMaxIterations:          CodeMaxIterations,
	ErrConfigLoad:             CodeConfigLoad,
	ErrNoSubscriber:           CodeNoSubscriber,
	ErrRuntimeClosed:          CodeRuntimeClosed,
	ErrUnknownActor:           CodeUnknownActor,
	ErrCustomerNotConnected:   CodeCustomerNotConnected,
	ErrOperatorNotConnected:   CodeOperatorNotConnected,
	ErrNoOperatorAvailable:    CodeNoOperatorAvailable,
	ErrAlreadyAssigned:        CodeAlreadyAssigned,
	ErrNotAssigned:            CodeNotAssigned,
	ErrTransportClosed:        CodeTransportClosed,
	ErrUnknownTransferCommand: CodeUnknownTransferCmd,
	ErrRateLimit:              CodeRateLimit,
	ErrAuthInvalid:            CodeAuthInvalid,
	ErrGatewayAuthFailed:      CodeGatewayAuth,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrDuplicate: {
		"operator": CodeOperatorDuplicate,
		"actor":    CodeActorDuplicate,
	},
	ErrTimeout: {
		"operator":  CodeOperatorDeliveryTimed,
		"inference": CodeInferenceTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Specific sentinels first so ErrGatewayAuthFailed is not reported as AUTH_INVALID.
	if errors.Is(err, ErrGatewayAuthFailed) {
		return CodeGatewayAuth
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
