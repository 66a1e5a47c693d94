/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// Overrides the timeout of all test contexts, e.g. when debugging tests.
const CDP_TEST_CONTEXT_TIMEOUT = "CDP_TEST_CONTEXT_TIMEOUT"

// GetTestContext returns a context that expires after testTimeout,
// or at the test binary deadline, whichever comes first. A zero testTimeout means no test-specific limit.
func GetTestContext(t *testing.T, testTimeout time.Duration) (context.Context, context.CancelFunc) {
	if timeoutStr, found := os.LookupEnv(CDP_TEST_CONTEXT_TIMEOUT); found {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			panic(fmt.Sprintf("Context timeout value '%s' is invalid: %s", timeoutStr, err.Error()))
		}
		return context.WithTimeout(context.Background(), timeout)
	}

	deadline, haveDeadline := t.Deadline()
	if testTimeout != 0 {
		testDeadline := time.Now().Add(testTimeout)
		if !haveDeadline || testDeadline.Before(deadline) {
			deadline = testDeadline
			haveDeadline = true
		}
	}

	if !haveDeadline {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), deadline)
}
