package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type form struct {
	Phone string `validate:"required,phone"`
	Image string `validate:"omitempty,imagetype"`
}

func TestNew_CustomTags(t *testing.T) {
	v := New()
	tests := []struct {
		name string
		in   form
		ok   bool
	}{
		{name: "valid", in: form{Phone: "+49 151 2345678", Image: "image/png"}, ok: true},
		{name: "slash phone", in: form{Phone: "0151/2345678"}, ok: true},
		{name: "letters in phone", in: form{Phone: "call me"}},
		{name: "short phone", in: form{Phone: "123"}},
		{name: "gif", in: form{Phone: "01512345678", Image: "image/gif"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Struct(tc.in)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAgentCode(t *testing.T) {
	assert.NoError(t, AgentCode("1000"))
	assert.NoError(t, AgentCode("9999"))
	assert.Error(t, AgentCode("999"))
	assert.Error(t, AgentCode("10000"))
	assert.Error(t, AgentCode("12a4"))
	assert.Error(t, AgentCode("0123"))
	assert.Error(t, AgentCode(""))
}

func TestImageContentType(t *testing.T) {
	assert.NoError(t, ImageContentType(" IMAGE/JPEG "))
	assert.Error(t, ImageContentType("text/plain"))
}
