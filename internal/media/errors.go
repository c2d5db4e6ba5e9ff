package media

import "fmt"

// InputError reports a source that is missing or cannot be decoded. It is
// the only failure the engine surfaces to its caller as fatal.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input %s: %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}
