package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	origCommit := Commit
	Commit = "0123456789abcdef"
	defer func() { Commit = origCommit }()

	assert.True(t, strings.HasPrefix(Info(), "fieldsync "))
	assert.Contains(t, Info(), "(0123456)")
	assert.Equal(t, "0123456", ShortCommit())
}

func TestUserAgent(t *testing.T) {
	assert.True(t, strings.HasPrefix(UserAgent(), "fieldsync/"))
}
