package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenvString(t *testing.T) {
	t.Setenv("VOICESESSION_TEST_STR", "hello")
	v, err := Getenv(GetenvString, "VOICESESSION_TEST_STR", true, "")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestGetenvFallback(t *testing.T) {
	v, err := Getenv(GetenvInt, "VOICESESSION_TEST_UNSET", false, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestGetenvRequiredMissing(t *testing.T) {
	_, err := Getenv(GetenvString, "VOICESESSION_TEST_UNSET", true, "")
	assert.Error(t, err)
}

func TestGetenvParseError(t *testing.T) {
	t.Setenv("VOICESESSION_TEST_INT", "not-a-number")
	_, err := Getenv(GetenvInt, "VOICESESSION_TEST_INT", false, 0)
	assert.Error(t, err)
}

func TestGetenvBool(t *testing.T) {
	t.Setenv("VOICESESSION_TEST_BOOL", "true")
	v, err := Getenv(GetenvBool, "VOICESESSION_TEST_BOOL", true, false)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestMustGetenvPanicsOnMissingRequired(t *testing.T) {
	assert.Panics(t, func() {
		MustGetenv(GetenvString, "VOICESESSION_TEST_UNSET", true, "")
	})
}
