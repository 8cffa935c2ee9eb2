package httpscenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vuramp/internal/scenario"
)

func TestScope_Render(t *testing.T) {
	vu := scenario.NewVU(3, scenario.Env{"MESSAGE": "hello"}, nil)
	vu.Iteration = 9
	vu.Set("token", "from-vu")

	sc := &scope{
		vu:        vu,
		setupData: map[string]string{"token": "from-setup", "tenant": "acme"},
		variables: map[string]string{"tenant": "default", "host": "example.com"},
		env:       vu.Env,
	}

	tests := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"{{token}}", "from-vu"},
		{"{{tenant}}", "acme"},
		{"https://{{host}}/x", "https://example.com/x"},
		{"{{ __ENV.MESSAGE }}", "hello"},
		{"vu={{__VU}} iter={{__ITER}}", "vu=3 iter=9"},
		{"{{unknown}}", "{{unknown}}"},
		{"{{__ENV.MISSING}}", "{{__ENV.MISSING}}"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, sc.render(tt.input))
		})
	}
}

func TestScope_SetWithoutVU(t *testing.T) {
	sc := &scope{variables: map[string]string{"a": "var"}}
	sc.set("a", "local")

	v, ok := sc.lookup("a")
	require.True(t, ok)
	assert.Equal(t, "local", v)
	assert.Equal(t, "0", sc.render("{{__VU}}"))
}

func TestToGjsonPath(t *testing.T) {
	tests := map[string]string{
		"$":                     "@this",
		"$.token":               "token",
		"token":                 "token",
		"$.users[0].name":       "users.0.name",
		"$[1]":                  "1",
		"$['user']['name']":     "user.name",
		`$["data"].items[2].id`: "data.items.2.id",
	}
	for in, want := range tests {
		assert.Equal(t, want, toGjsonPath(in), in)
	}
}

func TestExtractJSON(t *testing.T) {
	body := []byte(`{"users":[{"name":"ada","age":36}],"empty":null}`)

	v, err := extractJSON(body, "$.users[0].name")
	require.NoError(t, err)
	assert.Equal(t, "ada", v)

	v, err = extractJSON(body, "users.0.age")
	require.NoError(t, err)
	assert.Equal(t, "36", v)

	v, err = extractJSON(body, "$.empty")
	require.NoError(t, err)
	assert.Equal(t, "null", v)

	_, err = extractJSON(body, "$.users[3]")
	assert.ErrorContains(t, err, "path not found")

	_, err = extractJSON([]byte("not json"), "$.a")
	assert.ErrorContains(t, err, "not valid JSON")

	_, err = extractJSON(nil, "$.a")
	assert.ErrorContains(t, err, "empty")
}
