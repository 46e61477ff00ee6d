package xray

import "fmt"

// IOError means the engine failed before or while touching the live document.
// When Stage is one of backup/read/parse/encode, nothing was mutated; a failed
// write has already been rolled back by the time this surfaces.
type IOError struct {
	Stage string
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("config %s failed: %v", e.Stage, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ValidationFailedError means the mutated document did not pass the external
// validator. The live document has been restored from BackupPath and is
// byte-identical to the pre-call state.
type ValidationFailedError struct {
	BackupPath string
	Err        error
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("config rejected by validator, rolled back from %s: %v", e.BackupPath, e.Err)
}

func (e *ValidationFailedError) Unwrap() error { return e.Err }

// ReloadError means the document is valid and live but the proxy process did
// not confirm picking it up. Retryable; no rollback happened or is needed.
type ReloadError struct {
	Err error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("proxy reload failed: %v", e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }
