package launcher

import "fmt"

// InstallInstruction is printed verbatim when llama-server is missing.
const InstallInstruction = "Install it with: brew install llama.cpp"

// MissingArtifactError reports that the model weights are not where the
// launcher expects them.
type MissingArtifactError struct {
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("model file not found: %s", e.Path)
}

// Diagnostic is the operator-facing message.
func (e *MissingArtifactError) Diagnostic() string {
	return fmt.Sprintf("[!] Model file not found: %s", e.Path)
}

// MissingDependencyError reports that llama-server could not be located.
type MissingDependencyError struct {
	Searched []string
	Err      error
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing dependency: %v", e.Err)
}

func (e *MissingDependencyError) Unwrap() error { return e.Err }

// Diagnostic is the operator-facing message, ending in the install line.
func (e *MissingDependencyError) Diagnostic() string {
	msg := "[!] Missing dependency: llama.cpp server (llama-server).\n"
	if len(e.Searched) > 0 {
		msg += fmt.Sprintf("    Searched: %v and PATH\n", e.Searched)
	}
	return msg + "    " + InstallInstruction
}

type diagnostic interface {
	Diagnostic() string
}
