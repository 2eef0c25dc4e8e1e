package tool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireField(t *testing.T) {
	assert.NoError(t, RequireField("service_name", "billing"))

	for _, v := range []string{"", "   ", "\t\n"} {
		err := RequireField("service_name", v)
		if assert.Error(t, err) {
			assert.Equal(t, "'service_name' is required", err.Error())
		}
	}
}

func TestValidateMaxLength(t *testing.T) {
	assert.NoError(t, ValidateMaxLength("issue", strings.Repeat("a", 10), 10))

	err := ValidateMaxLength("issue", strings.Repeat("a", 11), 10)
	if assert.Error(t, err) {
		assert.Equal(t, "issue exceeds maximum length of 10", err.Error())
	}
}
