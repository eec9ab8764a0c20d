package contracts

import "fmt"

// NotLoadedError is returned when a capability method is invoked before a
// successful Load.
type NotLoadedError struct {
	Plugin string
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("%s: model not loaded", e.Plugin)
}

// RecognitionError is a backend-reported ASR failure.
type RecognitionError struct {
	Plugin string
	Reason string
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("%s: recognition failed: %s", e.Plugin, e.Reason)
}

// SynthesisError is a backend-reported TTS failure.
type SynthesisError struct {
	Plugin string
	Reason string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s: synthesis failed: %s", e.Plugin, e.Reason)
}

// RemoteCallError is a transport failure or non-success status from a remote
// collaborator. Status is zero when the request never reached the server.
type RemoteCallError struct {
	Endpoint string
	Status   int
	Reason   string
}

func (e *RemoteCallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote call to %s failed: HTTP %d: %s", e.Endpoint, e.Status, e.Reason)
	}
	return fmt.Sprintf("remote call to %s failed: %s", e.Endpoint, e.Reason)
}

// InvalidInputError reports missing or empty required input.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}
