/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package cdp

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingCallTableFulfill(t *testing.T) {
	t.Parallel()
	table := newPendingCallTable()

	pc, err := table.Register(1)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	require.True(t, table.Fulfill(1, callResult{result: Payload(`{"a":1}`)}))
	assert.Equal(t, 0, table.Len())

	res := <-pc.done
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"a":1}`, string(res.result))

	assert.False(t, table.Fulfill(1, callResult{}), "a call is fulfilled only once")
	assert.False(t, table.Fulfill(2, callResult{}), "unknown ids are not fulfilled")
}

func TestPendingCallTableRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()
	table := newPendingCallTable()

	_, err := table.Register(5)
	require.NoError(t, err)
	_, err = table.Register(5)
	require.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, table.Len())
}

func TestPendingCallTableRemove(t *testing.T) {
	t.Parallel()
	table := newPendingCallTable()

	_, err := table.Register(1)
	require.NoError(t, err)

	require.True(t, table.Remove(1))
	assert.False(t, table.Remove(1))
	assert.False(t, table.Fulfill(1, callResult{}), "a removed call cannot be fulfilled")
}

func TestPendingCallTableFulfillAll(t *testing.T) {
	t.Parallel()
	table := newPendingCallTable()

	calls := make([]*pendingCall, 0, 3)
	for id := uint64(1); id <= 3; id++ {
		pc, err := table.Register(id)
		require.NoError(t, err)
		calls = append(calls, pc)
	}
	require.True(t, table.Fulfill(2, callResult{result: Payload(`{}`)}))

	assert.Equal(t, 2, table.FulfillAll(ErrConnectionClosed))
	assert.Equal(t, 0, table.Len())

	assert.ErrorIs(t, (<-calls[0].done).err, ErrConnectionClosed)
	assert.NoError(t, (<-calls[1].done).err)
	assert.ErrorIs(t, (<-calls[2].done).err, ErrConnectionClosed)

	_, err := table.Register(4)
	require.ErrorIs(t, err, ErrNotConnected, "the table is sealed after FulfillAll")
}

func TestPendingCallTableSeal(t *testing.T) {
	t.Parallel()
	table := newPendingCallTable()

	pc, err := table.Register(1)
	require.NoError(t, err)

	table.Seal()
	_, err = table.Register(2)
	require.ErrorIs(t, err, ErrNotConnected)

	// Calls registered before sealing can still complete.
	require.True(t, table.Fulfill(1, callResult{}))
	<-pc.done
}

func TestPendingCallTableConcurrentCompletion(t *testing.T) {
	t.Parallel()
	table := newPendingCallTable()

	const callCount = 200
	calls := make([]*pendingCall, 0, callCount)
	for id := uint64(1); id <= callCount; id++ {
		pc, err := table.Register(id)
		require.NoError(t, err)
		calls = append(calls, pc)
	}

	// Replies, cancellations and a shutdown race for every call; each call must complete exactly once.
	var fulfilled, removed atomic.Int32
	var wg sync.WaitGroup
	for id := uint64(1); id <= callCount; id++ {
		wg.Add(2)
		go func(id uint64) {
			defer wg.Done()
			if table.Fulfill(id, callResult{}) {
				fulfilled.Add(1)
			}
		}(id)
		go func(id uint64) {
			defer wg.Done()
			if id%2 == 0 && table.Remove(id) {
				removed.Add(1)
			}
		}(id)
	}
	wg.Add(1)
	var failedAll int32
	go func() {
		defer wg.Done()
		failedAll = int32(table.FulfillAll(ErrConnectionClosed))
	}()
	wg.Wait()

	assert.Equal(t, int32(callCount), fulfilled.Load()+removed.Load()+failedAll)
	assert.Equal(t, 0, table.Len())

	completed := 0
	for _, pc := range calls {
		select {
		case <-pc.done:
			completed++
		default:
		}
	}
	assert.Equal(t, int(fulfilled.Load()+failedAll), completed)
}
