/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package osutil

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Returns true if the environment variable "switch" is enabled.
// The environment variable is considered enabled if it is set to one of the "truthy" values:
// "1", "true", "on", or "yes".
func EnvVarSwitchEnabled(varName string) bool {
	value, found := os.LookupEnv(varName)
	if !found || strings.TrimSpace(value) == "" {
		return false
	}

	value = strings.TrimSpace(value)
	enabled := strings.EqualFold(value, "1") ||
		strings.EqualFold(value, "true") ||
		strings.EqualFold(value, "on") ||
		strings.EqualFold(value, "yes")
	return enabled
}

func EnvVarStringWithDefault(varName string, defaultVal string) string {
	val, found := os.LookupEnv(varName)
	if !found || strings.TrimSpace(val) == "" {
		return defaultVal
	} else {
		return strings.TrimSpace(val)
	}
}

// Reads a duration from the environment variable.
// The value can be a Go duration string ("1500ms", "2s") or a non-negative integer number of seconds.
// Returns the default value if the variable is not set or cannot be parsed.
func EnvVarDurationValWithDefault(varName string, defaultVal time.Duration) time.Duration {
	value, found := os.LookupEnv(varName)
	if !found || strings.TrimSpace(value) == "" {
		return defaultVal
	}

	value = strings.TrimSpace(value)
	if seconds, intErr := strconv.ParseInt(value, 10, 32); intErr == nil {
		if seconds < 0 {
			return defaultVal
		}
		return time.Duration(seconds) * time.Second
	}

	val, err := time.ParseDuration(value)
	if err != nil || val < 0 {
		return defaultVal
	}

	return val
}
