package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Expediente_Á1.PDF", "expediente_a1.pdf"},
		{"ambito.pdf", "ambito.pdf"},
		{"ÁMBITO.pdf", "ambito.pdf"},
		{"señal.pdf", "senal.pdf"},
		{"straße.pdf", "strasse.pdf"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FoldFilename(tc.in), "input %q", tc.in)
	}
}

func TestFoldFilenameCollision(t *testing.T) {
	// accent and case variants collapse to the same key
	assert.Equal(t, FoldFilename("Informe_Técnico.pdf"), FoldFilename("informe_tecnico.PDF"))
}
