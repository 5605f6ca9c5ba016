package signer

import "fmt"

// KeyImportError reports malformed or unusable signing key material.
type KeyImportError struct {
	Cause error
}

func (e *KeyImportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return "key import error"
	}
	return fmt.Sprintf("key import error: %s", e.Cause.Error())
}

func (e *KeyImportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// SigningError reports a cryptographic failure while signing a token.
type SigningError struct {
	Cause error
}

func (e *SigningError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return "signing error"
	}
	return fmt.Sprintf("signing error: %s", e.Cause.Error())
}

func (e *SigningError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
