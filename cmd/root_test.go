package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAppCommands(t *testing.T) {
	app := NewApp()

	names := make([]string, 0, len(app.Commands))
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}

	assert.Equal(t, []string{"ask", "chat", "validate", "schema", "eval", "config"}, names)

	for _, c := range app.Commands {
		if c.Name == "schema" {
			assert.Len(t, c.Commands, 3)
		}
	}
}
