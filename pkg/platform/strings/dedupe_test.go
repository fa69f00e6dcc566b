package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapseSpace(t *testing.T) {
	assert.Equal(t, "Claire Dupont", CollapseSpace("  Claire \t  Dupont\n"))
	assert.Equal(t, "", CollapseSpace(" \t "))
}

func TestUniqueLower(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil", input: nil, expected: nil},
		{name: "only blanks", input: []string{"", "  "}, expected: nil},
		{name: "case and spacing collapse", input: []string{"  Logement  Social", "logement social", "AN"}, expected: []string{"logement social", "an"}},
		{name: "order of first occurrence", input: []string{"senat", "an", "Senat"}, expected: []string{"senat", "an"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, UniqueLower(tt.input))
		})
	}
}
