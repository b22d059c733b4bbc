// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator instances cache struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the configuration is complete and coherent.
// Struct-tag rules cover per-field constraints (including the closed relay
// mode set); cross-field rules are checked explicitly below.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			if first.Namespace() == "Config.Relay.Mode" {
				return fmt.Errorf("invalid relay MODE %q: must be one of transparent, modify, replay, delay, drop, reorder", first.Value())
			}
			return fmt.Errorf("invalid configuration: %s failed rule %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.validateRelayDelays(); err != nil {
		return err
	}
	return c.validateModifyPayload()
}

// validateModifyPayload rejects a substitution payload containing the field
// delimiter, which would corrupt the wire grammar of modified messages.
func (c *Config) validateModifyPayload() error {
	if strings.Contains(c.Relay.ModifyPayload, "|") {
		return errors.New("RELAY_MODIFY_PAYLOAD must not contain '|'")
	}
	return nil
}

// validateRelayDelays checks the delay range used by delay mode.
func (c *Config) validateRelayDelays() error {
	min, max := c.Relay.DelayMin, c.Relay.DelayMax
	if (min == 0) != (max == 0) {
		return errors.New("RELAY_DELAY_MIN and RELAY_DELAY_MAX must be set together")
	}
	if min > max {
		return fmt.Errorf("RELAY_DELAY_MIN (%v) must not exceed RELAY_DELAY_MAX (%v)", min, max)
	}
	return nil
}
