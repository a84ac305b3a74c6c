package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine operations
var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrProvisioningFailed matches every fan-out failure, whether a
	// connector returned an error or the deadline elapsed.
	ErrProvisioningFailed = errors.New("provisioning failed")
	ErrTimeout            = fmt.Errorf("%w: timeout", ErrProvisioningFailed)
)

// ConnectorError records a connector call that returned an error.
type ConnectorError struct {
	Connector string
	Op        string
	Err       error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("connector %s: %s: %v", e.Connector, e.Op, e.Err)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// Is reports a connector failure as a provisioning failure.
func (e *ConnectorError) Is(target error) bool {
	return target == ErrProvisioningFailed
}
