package errors

import "fmt"

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrMalformedEnvelope  = fmt.Errorf("malformed envelope")
	ErrInvalidDisplayName = fmt.Errorf("invalid display name")
	ErrLineTooLong        = fmt.Errorf("line exceeds maximum length")
	ErrEmptyWords         = fmt.Errorf("no words have been found")
)
