package launcher

import (
	"github.com/trainctl/trainctl/pkg/experiment"
	"github.com/trainctl/trainctl/pkg/models"
)

// Launcher renders a training spec into an executable command line.
type Launcher interface {
	// Name returns the launcher name
	Name() string

	// Supports checks if this launcher can run the spec on a node with caps
	Supports(spec experiment.Spec, caps *models.NodeCapabilities) bool

	// BuildCommand returns the program and its arguments for the spec
	BuildCommand(spec experiment.Spec) (string, []string, error)
}

// Type selects a launcher implementation
type Type string

const (
	TypeAuto  Type = "auto"
	TypeTorch Type = "torch" // torch.distributed.launch wrapper
)

// Select returns the launcher for the given type. Only the torch launcher
// exists today; auto resolves to it.
func Select(t Type, python, script string) (Launcher, error) {
	switch t {
	case TypeAuto, TypeTorch, "":
		return NewTorchLauncher(python, script), nil
	default:
		return nil, errUnknownLauncher(t)
	}
}

type unknownLauncherError struct {
	t Type
}

func (e *unknownLauncherError) Error() string {
	return "unknown launcher type: " + string(e.t)
}

func errUnknownLauncher(t Type) error {
	return &unknownLauncherError{t: t}
}
