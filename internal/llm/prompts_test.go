package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages(t *testing.T) {
	messages := BuildMessages("CS 61B", "what is a red-black tree?")
	require.Len(t, messages, 2)

	assert.Equal(t, RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, `"CS 61B"`)
	assert.Contains(t, messages[0].Content, "Do NOT provide final answers")

	assert.Equal(t, RoleUser, messages[1].Role)
	assert.Equal(t, "what is a red-black tree?", messages[1].Content)
}

func TestCoursePolicySystemPromptDefaultsCourseName(t *testing.T) {
	assert.Contains(t, CoursePolicySystemPrompt(""), `"Course"`)
}
