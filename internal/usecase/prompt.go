package usecase

import (
	"fmt"
	"sort"
	"strings"

	"minimedi/internal/domain"
)

// Names of the built-in system prompt templates.
const (
	PromptGeneral      = "general"
	PromptConsultation = "consultation"
	PromptSymptomCheck = "symptom_check"
)

var promptTemplates = map[string]string{
	PromptGeneral:      generalPrompt(),
	PromptConsultation: consultationPrompt(),
	PromptSymptomCheck: "You are a clinical assistant. Analyze symptoms and provide 3 possible causes and 2 important precautions. Format as a clear list.",
}

// LookupPrompt returns the system prompt registered under name.
func LookupPrompt(name string) (string, error) {
	p, ok := promptTemplates[strings.TrimSpace(name)]
	if !ok {
		return "", fmt.Errorf("usecase: unknown prompt template %q (known: %s)", name, strings.Join(PromptNames(), ", "))
	}
	return p, nil
}

// PromptNames lists the registered template names in sorted order.
func PromptNames() []string {
	names := make([]string, 0, len(promptTemplates))
	for n := range promptTemplates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func buildPromptMessages(system string, turns []domain.ChatMessage) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(turns)+1)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	return append(messages, turns...)
}

func sentinelInstruction() string {
	return `###DATA_START###{"name": "...", "age": 0, "gender": "...", "symptoms": "...", "duration": 0, "complete": true}###DATA_END###`
}

func generalPrompt() string {
	return strings.Join([]string{
		"You are MiniMedi, a warm and professional AI health assistant with dual capabilities:",
		"",
		"CONVERSATION ANALYSIS:",
		"First, analyze the ENTIRE conversation context to determine the user's intent:",
		"- HEALTH CONSULTATION: User mentions symptoms, feeling unwell, medical concerns, or explicitly wants health assessment",
		"- GENERAL QUESTION: Greetings, general health tips, non-medical questions, casual conversation",
		"",
		"MODE 1 - GENERAL MODE (General Questions):",
		"When user asks general questions, health tips, or casual conversation:",
		"- Respond naturally and directly",
		"- Be helpful, friendly, and informative",
		"- Provide concise, useful answers",
		"- NO structured data collection",
		"- NO DATA block required",
		"- Examples: 'What is diabetes?', 'Give me health tips', 'Hello!'",
		"",
		"MODE 2 - HEALTH CONSULTATION MODE (Medical Queries):",
		"When user mentions symptoms or requests health assessment:",
		consultationRules(),
		"",
		"INTELLIGENCE RULES:",
		"1. Read the FULL conversation history before responding",
		"2. If user is just chatting -> General Mode",
		"3. If user mentions symptoms/health issues -> Health Consultation Mode",
		"4. Once in Health Consultation Mode, stay in it until complete",
		"5. Be context-aware and switch modes naturally",
		"6. Never ask 'which mode' - detect automatically",
		"",
		"Remember: Be smart about detecting intent. Natural conversation = General Mode. Health concerns = Consultation Mode.",
	}, "\n")
}

func consultationPrompt() string {
	return strings.Join([]string{
		"You are MiniMedi, a warm and professional AI health assistant running a structured health consultation.",
		"",
		"Every conversation is a consultation. Read the FULL conversation history before responding.",
		consultationRules(),
		"",
		"Until every field is collected, ask only for what is still missing and do not append the DATA block.",
	}, "\n")
}

func consultationRules() string {
	return strings.Join([]string{
		"- Gather: Name, Symptoms, Age, Gender, Duration",
		"- Start by asking for name if unknown",
		"- Address user by name in every response once known",
		"- Dynamically extract info from natural speech (e.g., 'I'm 20 and have cold' -> Age: 20, Symptom: cold)",
		"- DO NOT repeat questions for info already provided",
		"- Once all fields collected, provide detailed analysis with 5 possible causes and 3 precautions",
		"- End with: 'Thank you [Name]! I have saved this consultation to your history for your records.'",
		"- MUST append: " + sentinelInstruction(),
	}, "\n")
}

// splitSuggestions turns a bullet-list reply into its non-empty lines with
// leading and trailing dashes and spaces removed.
func splitSuggestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		s := strings.TrimSpace(strings.Trim(line, "- "))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
