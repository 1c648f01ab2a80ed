package gserve

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "started", Started.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestLifecycle_Shutdown(t *testing.T) {
	var l lifecycle
	_, ok := l.shutdown()
	assert.False(t, ok)

	assert.True(t, l.transition(Created, Initialized))
	assert.False(t, l.transition(Created, Initialized))
	assert.True(t, l.transition(Initialized, Starting))

	prev, ok := l.shutdown()
	assert.True(t, ok)
	assert.Equal(t, Starting, prev)
	assert.Equal(t, Shutdown, l.load())

	prev, ok = l.shutdown()
	assert.False(t, ok)
	assert.Equal(t, Shutdown, prev)
}

func TestOnceListener(t *testing.T) {
	var calls atomic.Int32
	o := notifyOnce(ListenerFuncs{
		Success: func() { calls.Add(1) },
		Failure: func(error) { calls.Add(1) },
	})
	o.success()
	o.failure(errors.New("late"))
	o.success()
	assert.Equal(t, int32(1), calls.Load())

	notifyOnce(nil).failure(errors.New("nobody listens"))
	ListenerFuncs{}.OnSuccess()
}

func TestServerStartError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&ServerStartError{Addr: ":1", Cause: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "gserve: start :1: boom", err.Error())
	assert.Equal(t, "gserve: cannot stop in state created", (&InvalidStateError{Op: "stop", State: Created}).Error())
}
