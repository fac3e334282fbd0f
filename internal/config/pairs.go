package config

import (
	"fmt"
	"strconv"
	"strings"
)

// UnmarshalYAML parses a "host:guest" port pair scalar, matching
// monocore.rs's PortPair string-newtype encoding.
func (p *PortPair) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	host, guest, ok := strings.Cut(raw, ":")
	if !ok {
		return fmt.Errorf("port pair %q: expected HOST:GUEST", raw)
	}
	hostPort, err := strconv.ParseUint(host, 10, 16)
	if err != nil {
		return fmt.Errorf("port pair %q: invalid host port: %w", raw, err)
	}
	guestPort, err := strconv.ParseUint(guest, 10, 16)
	if err != nil {
		return fmt.Errorf("port pair %q: invalid guest port: %w", raw, err)
	}
	p.Host = uint16(hostPort)
	p.Guest = uint16(guestPort)
	return nil
}

func (p PortPair) String() string {
	return fmt.Sprintf("%d:%d", p.Host, p.Guest)
}

// UnmarshalYAML parses a "KEY=VALUE" environment variable scalar.
func (e *EnvPair) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	key, value, ok := strings.Cut(raw, "=")
	if !ok {
		return fmt.Errorf("env pair %q: expected KEY=VALUE", raw)
	}
	e.Key = key
	e.Value = value
	return nil
}

func (e EnvPair) String() string {
	return e.Key + "=" + e.Value
}
