package errors

import (
	"errors"
	"fmt"
)

// sentinel errors shared by the rig packages
var (
	ErrNotConnected   = errors.New("actuator is not connected")
	ErrAlreadyRunning = errors.New("session is already running")
	ErrNotInitialized = errors.New("session has not been initialized")
)

type ConfigError struct {
	Field  string
	Reason string
}

func (err ConfigError) Error() string {
	if len(err.Field) == 0 {
		err.Field = "UNKNOWN"
	}
	return fmt.Sprintf("invalid configuration; %s %s", err.Field, err.Reason)
}

// ChannelError wraps a failure that can be attributed to a single actuator channel.
type ChannelError struct {
	Channel int
	Op      string
	Err     error
}

func (err ChannelError) Error() string {
	if len(err.Op) == 0 {
		err.Op = "UNKNOWN"
	}
	return fmt.Sprintf("channel %d: unable to %s: %v", err.Channel, err.Op, err.Err)
}

func (err ChannelError) Unwrap() error {
	return err.Err
}

type ConnectionError struct {
	Address string
	Err     error
}

func (err ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", err.Address, err.Err)
}

func (err ConnectionError) Unwrap() error {
	return err.Err
}
