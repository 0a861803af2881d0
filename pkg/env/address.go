package env

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Address is a target address accepting hex (0x20000000) or decimal notation
// in flags, environment variables and YAML.
type Address uint32

// ParseAddress parses s as a 32-bit address.
func ParseAddress(s string) (Address, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Address(v), nil
}

// String implements flag.Value.
func (a Address) String() string {
	return fmt.Sprintf("%#08x", uint32(a))
}

// Set implements flag.Value.
func (a *Address) Set(s string) error {
	v, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Address) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", node.Line)
	}
	return a.Set(node.Value)
}

// MarshalYAML implements yaml.Marshaler.
func (a Address) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}
