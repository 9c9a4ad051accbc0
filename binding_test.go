package mcpdesk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcpdesk"
)

func TestParseBinding(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		want mcpdesk.ArgumentSource
	}{
		{"whole result", "$step0", mcpdesk.StepRef(0, "")},
		{"field", "$step1.price", mcpdesk.StepRef(1, "price")},
		{"index", "$step0[0]", mcpdesk.StepRef(0, "[0]")},
		{"field then index", "$step2.items[1]", mcpdesk.StepRef(2, "items[1]")},
		{"index then field", "$step0[1].name", mcpdesk.StepRef(0, "[1].name")},
		{"previous result", mcpdesk.PreviousResult, mcpdesk.StepRef(2, "")},
		{"expression", map[string]interface{}{"$expr": "$step0 * 2"}, mcpdesk.Expr("$step0 * 2")},
		{"trailing text stays literal", "$step0 and more", mcpdesk.Literal("$step0 and more")},
		{"unclosed index stays literal", "$step0[1", mcpdesk.Literal("$step0[1")},
		{"number", 42.0, mcpdesk.Literal(42.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mcpdesk.ParseBinding(tt.raw, 3)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := mcpdesk.ParseBinding(map[string]interface{}{"$expr": "1", "extra": true}, 0)
	assert.Error(t, err)
	_, err = mcpdesk.ParseBinding(map[string]interface{}{"$expr": "  "}, 0)
	assert.Error(t, err)
}

func TestEncodeBinding_RoundTripsIndexedReferences(t *testing.T) {
	for _, raw := range []string{"$step0", "$step0.price", "$step0[0]", "$step1[2].name", "$step3.a[1]"} {
		src, err := mcpdesk.ParseBinding(raw, 4)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, mcpdesk.EncodeBinding(src), raw)
		assert.Equal(t, raw, src.String(), raw)
	}
}
