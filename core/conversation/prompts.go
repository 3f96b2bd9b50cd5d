package conversation

import (
	"fmt"
	"strings"
)

const (
	welcomeText      = "👋 *Welcome to Privy Bot!*\n\nI'm here to help you learn about privacy and online safety. Let's get started!\n\nWhat's your name?"
	shortWelcomeText = "Welcome! Please tell me your name to get started."
	invalidNameText  = "Please provide a valid name."
	invalidAgeText   = "Please enter a valid age (or select an age group):"
	educationText    = "What is your education level?"
	invalidEduText   = "Please select a valid education level:"
	privacyText      = "What privacy level would you prefer (Low, Medium, High)?"
	invalidPrivText  = "Please select a valid privacy level:"
	invalidTopicText = "Please select a valid topic:"
	chooseTopicText  = "Let's choose a topic first:"
	changeTopicText  = "Okay, let's choose a different topic:"

	// GenerationFailedText is sent when the text generator fails.
	GenerationFailedText = "I'm having trouble generating a response right now. Please try again later with a different question."

	introFooter    = "\n\nReply with:\n1. For step-by-step tutorial\n2. To see platform examples\n3. To change topic"
	tutorialFooter = "\n\nReply with:\n1. More detailed tutorial\n2. See platform examples\n3. Change topic"
	examplesFooter = "\n\nReply with:\n1. Step-by-step tutorial\n2. More platform examples\n3. Change topic"
	answerFooter   = "\n\nReply with:\n1. Step-by-step tutorial\n2. See platform examples\n3. Change topic"
)

var greetings = map[string]struct{}{
	"hi":           {},
	"hello":        {},
	"hi privy bot": {},
	"hey":          {},
}

// IsGreeting reports whether message restarts the conversation.
func IsGreeting(message string) bool {
	_, ok := greetings[strings.ToLower(strings.TrimSpace(message))]
	return ok
}

func nameAcceptedText(name string) string {
	return fmt.Sprintf("Nice to meet you, %s! Please tell me your age:", name)
}

func topicsText(level PrivacyLevel) string {
	return fmt.Sprintf("Thank you! Based on your %s privacy level, here are some topics we can discuss:", level)
}

func introPrompt(label string, level PrivacyLevel) string {
	return fmt.Sprintf("Provide a 3-sentence introduction about %s for %s privacy level. Focus on practical benefits.", label, level)
}

func tutorialPrompt(label string, level PrivacyLevel) string {
	return fmt.Sprintf("Provide a detailed 7-step beginner-friendly tutorial about implementing %s for %s privacy. Number each step clearly and include practical tips.", label, level)
}

func examplesPrompt(label string) string {
	return fmt.Sprintf("Give 3 specific, practical examples of how %s is implemented on Facebook, WhatsApp, and Instagram. For each platform, explain: 1) Where to find the setting, 2) How to enable it, 3) What protection it provides. Use bullet points.", label)
}

func questionPrompt(label string, level PrivacyLevel, message string) string {
	return fmt.Sprintf("Answer this question about %s for %s privacy level: %q in 2-3 sentences.", label, level, message)
}

func profilePrompt(s Session, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<s>[INST] As a privacy education assistant, respond to %s (%s, %s, %s privacy) about: %q.\n",
		s.Name, s.AgeCategory, s.EducationLevel, s.PrivacyLevel, message)
	b.WriteString("- Keep it concise (3-4 sentences)\n")
	b.WriteString("- Tailor it to their privacy level\n")
	b.WriteString("- Provide educational value\n")
	b.WriteString("- Use simple language for children if needed\n")
	b.WriteString("- Include one follow-up question or suggestion [/INST]")
	return b.String()
}

func tutorialHeader(label string) string {
	return "🔧 " + strings.ToUpper(label) + " TUTORIAL 🔧\n"
}

func examplesHeader(label string) string {
	return "📱 " + strings.ToUpper(label) + " EXAMPLES 📱\n"
}
