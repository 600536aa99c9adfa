package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindExpression(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"count": 2,
		"name":  `x" != "y" || "a`,
		"quote": "it's",
		"user":  map[string]any{"tags": []any{"a", "b"}},
	}

	tests := []struct {
		name     string
		source   string
		want     string
		bindings map[string]any
		wantErr  error
	}{
		{name: "no placeholders", source: "count > 1", want: "count > 1"},
		{
			name:     "bare placeholder becomes a typed variable",
			source:   "{{count}} > 1",
			want:     "flowrunArg0 > 1",
			bindings: map[string]any{"flowrunArg0": 2},
		},
		{
			name:     "unresolved bare placeholder binds nil",
			source:   "{{missing}} == nil",
			want:     "flowrunArg0 == nil",
			bindings: map[string]any{"flowrunArg0": nil},
		},
		{
			name:   "double quoted value is escaped",
			source: `"{{name}}" == "Ada"`,
			want:   `"x\" != \"y\" || \"a" == "Ada"`,
		},
		{
			name:   "single quoted value is escaped",
			source: `'{{quote}}' == 'ok'`,
			want:   `'it\'s' == 'ok'`,
		},
		{
			name:   "embedded in a longer literal",
			source: `"tags: {{user.tags}}" != ""`,
			want:   `"tags: [\"a\",\"b\"]" != ""`,
		},
		{
			name:   "escaped quote inside literal keeps the literal open",
			source: `"say \"{{quote}}\"" != ""`,
			want:   `"say \"it's\"" != ""`,
		},
		{
			name:   "raw literal without the closing quote",
			source: "`{{quote}}` != ''",
			want:   "`it's` != ''",
		},
		{
			name:    "raw literal that would be closed early",
			source:  `r'{{quote}}' == ''`,
			wantErr: ErrUnsafeLiteral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			source, bindings, err := BindExpression(tt.source, data)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, source)

			for k, v := range tt.bindings {
				assert.Contains(t, bindings, k)
				assert.Equal(t, v, bindings[k])
			}

			assert.Equal(t, data["count"], bindings["count"])
		})
	}
}

func TestBindExpression_AvoidsTakenNames(t *testing.T) {
	t.Parallel()

	data := map[string]any{"flowrunArg0": "mine", "n": 1}

	source, bindings, err := BindExpression("{{n}} == flowrunArg0", data)
	require.NoError(t, err)

	assert.Equal(t, "flowrunArg1 == flowrunArg0", source)
	assert.Equal(t, "mine", bindings["flowrunArg0"])
	assert.Equal(t, 1, bindings["flowrunArg1"])
	assert.NotContains(t, data, "flowrunArg1")
}
