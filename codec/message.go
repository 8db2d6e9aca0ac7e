// Package codec provides contracts that encode application values onto
// connections.
package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/network"
)

var messagePattern = regexp.MustCompile(`^Message\s+(-?\d+)`)

// Message encodes integers as "Message <n>".
type Message struct{}

var _ network.Contract = Message{}

// Serialize formats an integer as "Message <n>". Any other type is rejected
// with ErrType.
func (Message) Serialize(v any) (string, error) {
	n, ok := v.(int)
	if !ok {
		return "", cnerrors.WrapInvalid(
			fmt.Errorf("%w: expected int, got %T", cnerrors.ErrType, v),
			"Message", "Serialize", "check type")
	}

	return "Message " + strconv.Itoa(n), nil
}

// Deserialize extracts the integer from "Message <n>". Surrounding white
// space is ignored.
func (m Message) Deserialize(s string) (any, error) {
	n, err := m.DeserializeAny(s)
	if err != nil {
		return nil, err
	}

	return n, nil
}

// DeserializeAny is Deserialize for values whose type is not known to be a
// string yet. Non-string input is rejected with ErrType.
func (Message) DeserializeAny(v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, cnerrors.WrapInvalid(
			fmt.Errorf("%w: expected string, got %T", cnerrors.ErrType, v),
			"Message", "Deserialize", "check type")
	}

	match := messagePattern.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return 0, cnerrors.WrapInvalid(
			fmt.Errorf("%w: %q is not 'Message <integer>'", cnerrors.ErrFormat, s),
			"Message", "Deserialize", "match format")
	}

	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, cnerrors.WrapInvalid(
			fmt.Errorf("%w: %w", cnerrors.ErrFormat, err),
			"Message", "Deserialize", "parse integer")
	}

	return n, nil
}

// Lookup returns the contract registered under name. The empty name and
// "none" mean no contract.
func Lookup(name string) (network.Contract, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, nil
	case "message":
		return Message{}, nil
	default:
		return nil, cnerrors.WrapFatal(
			fmt.Errorf("%w: unknown contract %q", cnerrors.ErrInvalidConfig, name),
			"codec", "Lookup", "find contract")
	}
}
