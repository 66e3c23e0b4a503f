package instance

import (
	"errors"
	"os"
)

// Spec describes one terminal instance to spawn.
type Spec struct {
	Session string            `json:"session"`
	Command string            `json:"command"` // shell or program; defaults to $SHELL
	Args    []string          `json:"args"`
	Dir     string            `json:"cwd"`
	Env     map[string]string `json:"env"`
	Cols    int               `json:"cols"`
	Rows    int               `json:"rows"`
}

// Validate checks the spec and fills defaults.
func (s *Spec) Validate() error {
	if s.Session == "" {
		return errors.New("spec requires a session id")
	}
	if s.Command == "" {
		s.Command = os.Getenv("SHELL")
		if s.Command == "" {
			s.Command = defaultShell
		}
	}
	if s.Cols <= 0 {
		s.Cols = 80
	}
	if s.Rows <= 0 {
		s.Rows = 24
	}
	return nil
}
