package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("sensor %s", "ready")
	assert.Equal(t, []string{"sensor ready"}, got)

	// nil installs a no-op
	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, got, 1)
}

func TestDebugf_GatedByVerbose(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetVerbose(false)
	}()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	SetVerbose(false)
	Debugf("frame %d", 1)
	assert.Empty(t, got)
	assert.False(t, Verbose())

	SetVerbose(true)
	Debugf("frame %d", 2)
	assert.Equal(t, []string{"[debug] frame 2"}, got)
	assert.True(t, Verbose())
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	assert.NotPanics(t, func() { Logf("test message: %s", "value") })
}
