// Package conversation implements the onboarding state machine: it collects a
// user profile step by step and then answers privacy questions through a text
// generator.
package conversation

import "time"

// Step is the position of a user in the conversation.
type Step string

const (
	StepName           Step = "name"
	StepAge            Step = "age"
	StepEducation      Step = "education"
	StepPrivacy        Step = "privacy"
	StepTopicSelection Step = "topic_selection"
	StepInConversation Step = "in_conversation"
	StepCompleted      Step = "completed"
)

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	switch s {
	case StepName, StepAge, StepEducation, StepPrivacy, StepTopicSelection, StepInConversation, StepCompleted:
		return true
	}
	return false
}

// AgeCategory buckets an age.
type AgeCategory string

const (
	AgeChild AgeCategory = "Child"
	AgeTeen  AgeCategory = "Teen"
	AgeAdult AgeCategory = "Adult"
)

// CategoryForAge maps an age to its bucket: up to 12 is Child, up to 19 is Teen.
func CategoryForAge(age int) AgeCategory {
	switch {
	case age <= 12:
		return AgeChild
	case age <= 19:
		return AgeTeen
	default:
		return AgeAdult
	}
}

// EducationLevel is the canonical education answer.
type EducationLevel string

const (
	EducationPrimary   EducationLevel = "Primary"
	EducationSecondary EducationLevel = "Secondary"
	EducationDegree    EducationLevel = "Degree"
	EducationMasters   EducationLevel = "Masters"
	EducationPhD       EducationLevel = "PhD"
)

// PrivacyLevel is the preferred privacy tier.
type PrivacyLevel string

const (
	PrivacyLow    PrivacyLevel = "Low"
	PrivacyMedium PrivacyLevel = "Medium"
	PrivacyHigh   PrivacyLevel = "High"
)

// Session is the per-user conversation record.
type Session struct {
	UserID        string
	RawIdentifier string
	Transport     string

	Name           string
	Age            *int
	AgeCategory    AgeCategory
	EducationLevel EducationLevel
	PrivacyLevel   PrivacyLevel

	CurrentStep       Step
	CurrentTopic      string
	CurrentTopicLabel string

	// LastMessageID is the id of the last inbound message applied to the session.
	LastMessageID string
	// Version is bumped by the store on every save.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession returns a session for a first-time user.
func NewSession(userID, rawIdentifier, transport string) Session {
	return Session{
		UserID:        userID,
		RawIdentifier: rawIdentifier,
		Transport:     transport,
		CurrentStep:   StepName,
	}
}

// Reset clears the profile and moves the session back to the name step.
func (s *Session) Reset() {
	s.Name = ""
	s.Age = nil
	s.AgeCategory = ""
	s.EducationLevel = ""
	s.PrivacyLevel = ""
	s.CurrentStep = StepName
	s.clearTopic()
}

func (s *Session) clearTopic() {
	s.CurrentTopic = ""
	s.CurrentTopicLabel = ""
}

// Option is one selectable answer offered with a reply.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Reply is the transport-agnostic output of a step.
type Reply struct {
	Message string   `json:"message"`
	Options []Option `json:"options,omitempty"`
}
