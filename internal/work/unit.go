// Package work defines the unit of work that the launcher runs in each
// execution context, and the YAML launch plans that describe a run.
package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Default unit parameters.
const (
	DefaultName  = "sleep42"
	DefaultSleep = 100 * time.Millisecond
	DefaultValue = 42
)

// Unit is a nullary unit of work: it sleeps for a fixed duration and returns
// a constant. Units carry no state between invocations, so the same Unit may
// be bound to any number of execution contexts.
type Unit struct {
	Name  string        `json:"name" yaml:"name"`
	Sleep time.Duration `json:"sleep" yaml:"sleep"`
	Value int           `json:"value" yaml:"value"`
}

// Default returns the canonical unit: sleep 100ms, return 42.
func Default() Unit {
	return Unit{Name: DefaultName, Sleep: DefaultSleep, Value: DefaultValue}
}

// Validate reports whether the unit can be run.
func (u Unit) Validate() error {
	if u.Name == "" {
		return errors.New("unit name is required")
	}
	if u.Sleep < 0 {
		return fmt.Errorf("unit %q: negative sleep %s", u.Name, u.Sleep)
	}
	return nil
}

// Run executes the unit. It returns early with ctx.Err() if the context is
// cancelled before the sleep elapses.
func (u Unit) Run(ctx context.Context) (int, error) {
	if u.Sleep > 0 {
		t := time.NewTimer(u.Sleep)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return u.Value, nil
}

// Encode serialises the unit for handoff to a child process.
func (u Unit) Encode() (string, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("marshal unit: %w", err)
	}
	return string(data), nil
}

// Decode parses a unit previously produced by Encode.
func Decode(s string) (Unit, error) {
	var u Unit
	if err := json.Unmarshal([]byte(s), &u); err != nil {
		return Unit{}, fmt.Errorf("unmarshal unit: %w", err)
	}
	if err := u.Validate(); err != nil {
		return Unit{}, err
	}
	return u, nil
}
