package email

import (
	"errors"
	"fmt"
)

// Op names the stage of an SMTP submission.
type Op string

const (
	OpCompose  Op = "compose"
	OpConnect  Op = "connect"
	OpStartTLS Op = "starttls"
	OpAuth     Op = "auth"
	OpTransmit Op = "transmit"
)

var (
	ErrSTARTTLSNotOffered = errors.New("STARTTLS not offered by server")
	ErrAuthNotOffered     = errors.New("no supported AUTH mechanism offered by server")
)

// Error records the stage at which a submission failed.
type Error struct {
	Op  Op
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
