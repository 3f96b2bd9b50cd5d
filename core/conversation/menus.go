package conversation

import "strings"

var ageOptions = []Option{
	{Label: "Child (0-12)", Value: "child"},
	{Label: "Teen (13-19)", Value: "teen"},
	{Label: "Adult (20+)", Value: "adult"},
}

// representative age stored for each age option
var ageByOption = []int{10, 16, 25}

var educationOptions = []Option{
	{Label: "Primary", Value: "primary"},
	{Label: "Secondary", Value: "secondary"},
	{Label: "Degree", Value: "degree"},
	{Label: "Masters", Value: "master"},
	{Label: "PhD", Value: "phd"},
}

var educationByOption = []EducationLevel{
	EducationPrimary,
	EducationSecondary,
	EducationDegree,
	EducationMasters,
	EducationPhD,
}

// Free-text keywords, most advanced first so "master's degree" resolves to Masters.
var educationKeywords = []struct {
	keyword string
	level   EducationLevel
}{
	{"phd", EducationPhD},
	{"master", EducationMasters},
	{"degree", EducationDegree},
	{"secondary", EducationSecondary},
	{"primary", EducationPrimary},
}

var privacyOptions = []Option{
	{Label: "Low Privacy", Value: "low"},
	{Label: "Medium Privacy", Value: "medium"},
	{Label: "High Privacy", Value: "high"},
}

var privacyByOption = []PrivacyLevel{PrivacyLow, PrivacyMedium, PrivacyHigh}

var topicMenus = map[PrivacyLevel][]Option{
	PrivacyLow: {
		{Label: "Basic Social Media Privacy", Value: "social media privacy basics"},
		{Label: "Safe Browsing Habits", Value: "safe browsing practices"},
		{Label: "Password Security", Value: "creating strong passwords"},
		{Label: "Public Profile Settings", Value: "managing public profile"},
		{Label: "Recognizing Scams", Value: "identifying online scams"},
	},
	PrivacyMedium: {
		{Label: "Advanced Privacy Settings", Value: "advanced privacy controls"},
		{Label: "Two-Factor Authentication", Value: "setting up 2FA"},
		{Label: "Data Sharing Controls", Value: "managing data sharing"},
		{Label: "Browser Privacy", Value: "browser privacy settings"},
		{Label: "App Permissions", Value: "managing app permissions"},
	},
	PrivacyHigh: {
		{Label: "Encrypted Messaging", Value: "using encrypted messaging"},
		{Label: "VPN Usage", Value: "setting up a VPN"},
		{Label: "Advanced Security Settings", Value: "advanced security controls"},
		{Label: "Data Encryption", Value: "encrypting sensitive data"},
		{Label: "Privacy-Focused Tools", Value: "privacy enhancing tools"},
	},
}

var briefTopicMenus = map[PrivacyLevel][]Option{
	PrivacyLow: {
		{Label: "Basic Online Safety", Value: "basic safety"},
		{Label: "Public Profile Tips", Value: "public profile"},
	},
	PrivacyMedium: {
		{Label: "Data Protection", Value: "data protection"},
		{Label: "Digital Footprint", Value: "digital footprint"},
	},
	PrivacyHigh: {
		{Label: "Advanced Security", Value: "advanced security"},
		{Label: "Encryption Basics", Value: "encryption"},
	},
}

// AgeOptions returns the age group choices.
func AgeOptions() []Option { return cloneOptions(ageOptions) }

// EducationOptions returns the education choices.
func EducationOptions() []Option { return cloneOptions(educationOptions) }

// PrivacyOptions returns the privacy level choices.
func PrivacyOptions() []Option { return cloneOptions(privacyOptions) }

// TopicMenu returns the topics for a privacy level. The full menu has five
// entries per tier, the brief one two. Unknown levels get the Medium tier.
func TopicMenu(level PrivacyLevel, full bool) []Option {
	menus := briefTopicMenus
	if full {
		menus = topicMenus
	}
	topics, ok := menus[level]
	if !ok {
		topics = menus[PrivacyMedium]
	}
	return cloneOptions(topics)
}

func cloneOptions(in []Option) []Option {
	return append([]Option(nil), in...)
}

// selectOption resolves input against options by letter (A, B, ...), value or label.
// It returns -1 when nothing matches.
func selectOption(options []Option, input string) int {
	input = strings.TrimSpace(input)
	if input == "" {
		return -1
	}
	if idx, ok := letterIndex(input); ok {
		if idx < len(options) {
			return idx
		}
		return -1
	}
	for i, opt := range options {
		if strings.EqualFold(input, opt.Value) || strings.EqualFold(input, opt.Label) {
			return i
		}
	}
	return -1
}

func letterIndex(input string) (int, bool) {
	input = strings.TrimSuffix(input, ".")
	if len(input) != 1 {
		return 0, false
	}
	c := input[0]
	switch {
	case c >= 'A' && c <= 'Z':
		return int(c - 'A'), true
	case c >= 'a' && c <= 'z':
		return int(c - 'a'), true
	}
	return 0, false
}

// OptionKey returns the letter a user types to pick the option at index i.
func OptionKey(i int) string {
	if i < 0 || i >= 26 {
		return ""
	}
	return string(rune('A' + i))
}
