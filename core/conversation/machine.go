package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/m3rciful/privybot/core/logger"
)

const maxAge = 130

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CommitFunc persists a session. The machine calls it before any generator
// call so a generator failure never loses a profile change.
type CommitFunc func(ctx context.Context, s *Session) error

// Options configures a Machine.
type Options struct {
	// TopicMenu selects the topic_selection/in_conversation flow; otherwise
	// the profile ends in the completed step.
	TopicMenu       bool
	Generator       Generator
	GenerateTimeout time.Duration
}

// Machine advances sessions. It is safe for concurrent use; callers must
// serialize steps of the same session.
type Machine struct {
	opts Options
}

// NewMachine returns a Machine.
func NewMachine(opts Options) *Machine {
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 30 * time.Second
	}
	return &Machine{opts: opts}
}

// TopicMenuEnabled reports which flow the machine runs.
func (m *Machine) TopicMenuEnabled() bool { return m.opts.TopicMenu }

// Step applies message to sess and returns the next session with the reply.
// The only error is a failed commit; invalid answers re-prompt instead.
func (m *Machine) Step(ctx context.Context, sess Session, message string, commit CommitFunc) (Session, Reply, error) {
	if commit == nil {
		commit = func(context.Context, *Session) error { return nil }
	}
	ctx = logger.WithStep(ctx, string(sess.CurrentStep))
	text := strings.TrimSpace(message)

	if IsGreeting(text) {
		sess.Reset()
		return sess, Reply{Message: welcomeText}, nil
	}

	switch sess.CurrentStep {
	case StepName:
		return m.stepName(sess, text)
	case StepAge:
		return m.stepAge(sess, text)
	case StepEducation:
		return m.stepEducation(sess, text)
	case StepPrivacy:
		return m.stepPrivacy(sess, text)
	case StepTopicSelection:
		return m.stepTopicSelection(ctx, sess, text, commit)
	case StepInConversation:
		return m.stepInConversation(ctx, sess, text, commit)
	case StepCompleted:
		return m.stepCompleted(ctx, sess, text, commit)
	default:
		logger.Warn(ctx, "conversation", "step.unknown", slog.String("state", string(sess.CurrentStep)))
		sess.Reset()
		return sess, Reply{Message: shortWelcomeText}, nil
	}
}

func (m *Machine) stepName(sess Session, text string) (Session, Reply, error) {
	if text == "" {
		return sess, Reply{Message: invalidNameText}, nil
	}
	sess.Name = text
	sess.CurrentStep = StepAge
	return sess, Reply{Message: nameAcceptedText(text), Options: AgeOptions()}, nil
}

func (m *Machine) stepAge(sess Session, text string) (Session, Reply, error) {
	age, ok := parseAge(text)
	if !ok {
		return sess, Reply{Message: invalidAgeText, Options: AgeOptions()}, nil
	}
	sess.Age = &age
	sess.AgeCategory = CategoryForAge(age)
	sess.CurrentStep = StepEducation
	return sess, Reply{Message: educationText, Options: EducationOptions()}, nil
}

func parseAge(text string) (int, bool) {
	digits := leadingDigits(text)
	if digits != "" {
		age, err := strconv.Atoi(digits)
		if err != nil || age <= 0 || age > maxAge {
			return 0, false
		}
		return age, true
	}
	if idx := selectOption(ageOptions, text); idx >= 0 {
		return ageByOption[idx], true
	}
	return 0, false
}

func leadingDigits(text string) string {
	end := strings.IndexFunc(text, func(r rune) bool { return !unicode.IsDigit(r) })
	if end < 0 {
		return text
	}
	return text[:end]
}

func (m *Machine) stepEducation(sess Session, text string) (Session, Reply, error) {
	level, ok := parseEducation(text)
	if !ok {
		return sess, Reply{Message: invalidEduText, Options: EducationOptions()}, nil
	}
	sess.EducationLevel = level
	sess.CurrentStep = StepPrivacy
	return sess, Reply{Message: privacyText, Options: PrivacyOptions()}, nil
}

func parseEducation(text string) (EducationLevel, bool) {
	if idx := selectOption(educationOptions, text); idx >= 0 {
		return educationByOption[idx], true
	}
	lower := strings.ToLower(text)
	for _, kw := range educationKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.level, true
		}
	}
	return "", false
}

func (m *Machine) stepPrivacy(sess Session, text string) (Session, Reply, error) {
	idx := selectOption(privacyOptions, text)
	if idx < 0 {
		return sess, Reply{Message: invalidPrivText, Options: PrivacyOptions()}, nil
	}
	sess.PrivacyLevel = privacyByOption[idx]
	if m.opts.TopicMenu {
		sess.CurrentStep = StepTopicSelection
	} else {
		sess.CurrentStep = StepCompleted
	}
	return sess, Reply{Message: topicsText(sess.PrivacyLevel), Options: m.topics(sess)}, nil
}

func (m *Machine) topics(sess Session) []Option {
	return TopicMenu(sess.PrivacyLevel, m.opts.TopicMenu)
}

func (m *Machine) stepTopicSelection(ctx context.Context, sess Session, text string, commit CommitFunc) (Session, Reply, error) {
	menu := m.topics(sess)
	idx := selectOption(menu, text)
	if idx < 0 {
		return sess, Reply{Message: invalidTopicText, Options: menu}, nil
	}
	sess.CurrentTopic = menu[idx].Value
	sess.CurrentTopicLabel = menu[idx].Label
	sess.CurrentStep = StepInConversation
	if err := commit(ctx, &sess); err != nil {
		return sess, Reply{}, fmt.Errorf("commit topic: %w", err)
	}

	intro, err := m.generate(ctx, introPrompt(sess.CurrentTopicLabel, sess.PrivacyLevel))
	if err != nil {
		return sess, Reply{Message: GenerationFailedText}, nil
	}
	return sess, Reply{Message: intro + introFooter}, nil
}

type intent int

const (
	intentQuestion intent = iota
	intentTutorial
	intentExamples
	intentChangeTopic
)

func classifyIntent(text string) intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	switch {
	case normalized == "1" || strings.Contains(normalized, "tutorial"):
		return intentTutorial
	case normalized == "2" || strings.Contains(normalized, "example"):
		return intentExamples
	case normalized == "3" || strings.Contains(normalized, "change") || strings.Contains(normalized, "topic"):
		return intentChangeTopic
	}
	return intentQuestion
}

func (m *Machine) stepInConversation(ctx context.Context, sess Session, text string, commit CommitFunc) (Session, Reply, error) {
	if sess.CurrentTopic == "" {
		sess.clearTopic()
		sess.CurrentStep = StepTopicSelection
		return sess, Reply{Message: chooseTopicText, Options: m.topics(sess)}, nil
	}

	label := sess.CurrentTopicLabel
	if label == "" {
		label = sess.CurrentTopic
	}

	var prompt, header, footer string
	switch classifyIntent(text) {
	case intentChangeTopic:
		sess.clearTopic()
		sess.CurrentStep = StepTopicSelection
		return sess, Reply{Message: changeTopicText, Options: m.topics(sess)}, nil
	case intentTutorial:
		prompt, header, footer = tutorialPrompt(label, sess.PrivacyLevel), tutorialHeader(label), tutorialFooter
	case intentExamples:
		prompt, header, footer = examplesPrompt(label), examplesHeader(label), examplesFooter
	default:
		if text == "" {
			return sess, Reply{Message: strings.TrimPrefix(answerFooter, "\n\n")}, nil
		}
		prompt, footer = questionPrompt(label, sess.PrivacyLevel, text), answerFooter
	}

	if err := commit(ctx, &sess); err != nil {
		return sess, Reply{}, fmt.Errorf("commit conversation: %w", err)
	}
	answer, err := m.generate(ctx, prompt)
	if err != nil {
		return sess, Reply{Message: GenerationFailedText}, nil
	}
	return sess, Reply{Message: header + answer + footer}, nil
}

func (m *Machine) stepCompleted(ctx context.Context, sess Session, text string, commit CommitFunc) (Session, Reply, error) {
	topics := m.topics(sess)
	if text == "" {
		return sess, Reply{Message: topicsText(sess.PrivacyLevel), Options: topics}, nil
	}
	if err := commit(ctx, &sess); err != nil {
		return sess, Reply{}, fmt.Errorf("commit completed: %w", err)
	}
	answer, err := m.generate(ctx, profilePrompt(sess, text))
	if err != nil {
		return sess, Reply{Message: GenerationFailedText, Options: topics}, nil
	}
	return sess, Reply{Message: answer, Options: topics}, nil
}

var errNoGenerator = errors.New("no text generator configured")

func (m *Machine) generate(ctx context.Context, prompt string) (string, error) {
	if m.opts.Generator == nil {
		return "", errNoGenerator
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.GenerateTimeout)
	defer cancel()

	start := time.Now()
	text, err := m.opts.Generator.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty generation")
	}
	if err != nil {
		logger.Error(ctx, "conversation", "generate.failed",
			slog.String("status", "fail"),
			slog.Duration("duration", time.Since(start)),
			slog.String("err", err.Error()),
		)
		return "", err
	}
	logger.Debug(ctx, "conversation", "generate.ok",
		slog.String("status", "ok"),
		slog.Duration("duration", time.Since(start)),
		slog.Int("chars", len(text)),
	)
	return strings.TrimSpace(text), nil
}
