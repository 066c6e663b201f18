package pipewire

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PipeWire lists and validates PipeWire ports through pw-link.
type PipeWire struct {
	run Runner
}

// NewPipeWire creates a PipeWire that shells out to pw-link.
func NewPipeWire() *PipeWire {
	return &PipeWire{run: execRunner}
}

// NewPipeWireWithRunner creates a PipeWire that uses run instead of exec.
func NewPipeWireWithRunner(run Runner) *PipeWire {
	return &PipeWire{run: run}
}

// ListPorts returns all available ports, inputs and outputs.
func (pw *PipeWire) ListPorts(ctx context.Context) ([]string, error) {
	output, err := pw.run(ctx, "pw-link", "-io")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

// ValidatePort checks that a capture source exists exactly once.
func (pw *PipeWire) ValidatePort(ctx context.Context, portName string) error {
	if portName == "" || portName == "disabled" {
		return nil
	}

	allPorts, err := pw.ListPorts(ctx)
	if err != nil {
		slog.Debug("Failed to check port existence", "port", portName, "error", err)
		return fmt.Errorf("failed to check port duplicates: %w", err)
	}
	return validatePortInList(portName, allPorts)
}

func validatePortInList(portName string, allPorts []string) error {
	duplicates := findPortDuplicatesInList(portName, allPorts)
	if len(duplicates) == 0 {
		return fmt.Errorf("port not found: %s", portName)
	}
	if len(duplicates) > 1 {
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}
	return nil
}

// findPortDuplicatesInList finds all ports with exactly the same name
func findPortDuplicatesInList(portName string, allPorts []string) []string {
	var duplicates []string
	for _, port := range allPorts {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}
