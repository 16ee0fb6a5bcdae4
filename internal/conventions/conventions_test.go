package conventions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/devup/internal/conventions"
)

func TestDBPath(t *testing.T) {
	assert.Equal(t, "/home/user/.devup/devup.db", conventions.DBPath("/home/user/.devup"))
}
