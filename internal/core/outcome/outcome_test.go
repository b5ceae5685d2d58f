package outcome

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultKinds(t *testing.T) {
	ok := Ok("text")
	v, isOk := ok.Value()
	assert.True(t, isOk)
	assert.Equal(t, "text", v)
	assert.Equal(t, KindOk, ok.Kind())
	assert.NoError(t, ok.Err())

	skipped := Skip[string]("no text", errors.New("empty candidate"))
	_, isOk = skipped.Value()
	assert.False(t, isOk)
	assert.True(t, skipped.IsSkipped())
	assert.Equal(t, "no text", skipped.Reason())
	assert.EqualError(t, skipped.Err(), "empty candidate")
	assert.Equal(t, "skipped: no text", skipped.String())

	cause := errors.New("invalid api key")
	fatal := Fatal[int](cause)
	assert.True(t, fatal.IsFatal())
	assert.ErrorIs(t, fatal.Err(), cause)
	assert.Equal(t, "fatal", fatal.Kind().String())
}

func TestFatalWithoutCause(t *testing.T) {
	r := Fatal[string](nil)
	assert.Error(t, r.Err())
}
