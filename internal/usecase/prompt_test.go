package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"minimedi/internal/sentinel"
)

func TestLookupPrompt(t *testing.T) {
	require.Equal(t, []string{PromptConsultation, PromptGeneral, PromptSymptomCheck}, PromptNames())

	for _, name := range []string{PromptGeneral, PromptConsultation} {
		p, err := LookupPrompt(name)
		require.NoError(t, err)
		require.Contains(t, p, sentinel.StartMarker)
		require.Contains(t, p, sentinel.EndMarker)
		require.Contains(t, p, "Name, Symptoms, Age, Gender, Duration")
	}

	general, _ := LookupPrompt(" general ")
	require.Contains(t, general, "ENTIRE conversation context")
	require.Contains(t, general, "stay in it until complete")

	_, err := LookupPrompt("dual")
	require.Error(t, err)
}

func TestPromptSentinelExampleParses(t *testing.T) {
	res, err := sentinel.Parse("text " + sentinelInstruction())
	require.NoError(t, err)
	require.True(t, res.Found)
	require.True(t, res.Payload.Complete)
	require.Equal(t, "text", res.Text)
}

func TestSplitSuggestions(t *testing.T) {
	require.Nil(t, splitSuggestions(""))
	require.Equal(t, []string{"a", "b"}, splitSuggestions("- a\n\n  \n-b-"))
}
