/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"fmt"
	"runtime/debug"

	"github.com/go-logr/logr"
)

// Logs a panic value and associated call stack and returns it as a (permanent) error.
// Returns nil if panicVal is nil, so it is safe to call with the result of recover() unconditionally.
func MakePanicError(panicVal any, log logr.Logger) error {
	if panicVal == nil {
		return nil
	}

	panicErr, isError := panicVal.(error)
	if !isError {
		panicErr = fmt.Errorf("%v", panicVal)
	}
	if !IsPermanent(panicErr) {
		panicErr = Permanent(panicErr)
	}

	log.Error(panicErr, "Recovered from panic", "stack", string(debug.Stack()))

	return panicErr
}
