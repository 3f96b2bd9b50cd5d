package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/m3rciful/privybot/core/conversation"
	"github.com/m3rciful/privybot/core/session"
)

// Report defaults and bounds.
const (
	DefaultReportDays  = 30
	DefaultReportLimit = 5
	maxReportLimit     = 50
)

// Priority thresholds on the number of users who discussed a topic.
const (
	highPriorityUsers   = 10
	mediumPriorityUsers = 5
)

// Report summarizes topic coverage and user engagement over a period.
type Report struct {
	Period          string           `json:"reportPeriod"`
	TotalUsers      int              `json:"totalUsers"`
	TopicCoverage   []Coverage       `json:"topicCoverage"`
	PopularTopics   []PopularTopic   `json:"popularTopics"`
	Recommendations []Recommendation `json:"recommendations"`
	Engagement      Engagement       `json:"engagement"`
	GeneratedAt     time.Time        `json:"generatedAt"`
}

// Coverage lists the topics offered to one privacy level.
type Coverage struct {
	Level  conversation.PrivacyLevel `json:"level"`
	Topics []string                  `json:"topics"`
	Count  int                       `json:"count"`
}

// PopularTopic is a menu topic with the number of users who discussed it.
type PopularTopic struct {
	Label           string `json:"label"`
	Value           string `json:"value"`
	DiscussionCount int    `json:"discussionCount"`
}

// Recommendation is advice attached to a popular topic.
type Recommendation struct {
	Topic          string   `json:"topic"`
	Recommendation []string `json:"recommendation"`
	Priority       string   `json:"priority"`
}

// Engagement averages activity over the active users of the period.
type Engagement struct {
	AvgMessagesPerUser float64 `json:"avgMessagesPerUser"`
	ActiveUserCount    int     `json:"activeUserCount"`
}

// Reporter builds reports from transcripts and the session census.
type Reporter struct {
	Transcripts Store
	Sessions    session.Counter
	// FullMenu selects the five-topic menus, as the conversation machine does.
	FullMenu bool
	Now      func() time.Time
}

// Build reports on the last days days, listing at most limit popular topics.
// Non-positive arguments take the defaults.
func (r *Reporter) Build(ctx context.Context, days, limit int) (Report, error) {
	if days <= 0 {
		days = DefaultReportDays
	}
	if limit <= 0 {
		limit = DefaultReportLimit
	}
	limit = min(limit, maxReportLimit)
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	generated := now().UTC()
	since := generated.Add(-time.Duration(days) * 24 * time.Hour)

	census, err := r.Sessions.Census(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("report: census: %w", err)
	}
	rep := Report{
		Period:          fmt.Sprintf("%d days", days),
		TotalUsers:      census.Users,
		TopicCoverage:   make([]Coverage, 0, len(census.PrivacyLevels)),
		PopularTopics:   []PopularTopic{},
		Recommendations: []Recommendation{},
		GeneratedAt:     generated,
	}
	for _, level := range census.PrivacyLevels {
		menu := conversation.TopicMenu(level, r.FullMenu)
		labels := make([]string, 0, len(menu))
		for _, t := range menu {
			labels = append(labels, t.Label)
		}
		rep.TopicCoverage = append(rep.TopicCoverage, Coverage{Level: level, Topics: labels, Count: len(labels)})
	}

	// Free-form topics never reach the menus, so over-fetch before filtering.
	counts, err := r.Transcripts.Topics(ctx, since, 0)
	if err != nil {
		return Report{}, fmt.Errorf("report: topics: %w", err)
	}
	known := r.menuTopics()
	for _, c := range counts {
		label, ok := known[c.Topic]
		if !ok {
			continue
		}
		rep.PopularTopics = append(rep.PopularTopics, PopularTopic{Label: label, Value: c.Topic, DiscussionCount: c.Users})
		rep.Recommendations = append(rep.Recommendations, Recommendation{
			Topic:          label,
			Recommendation: recommendationsFor(c.Topic),
			Priority:       priority(c.Users),
		})
		if len(rep.PopularTopics) == limit {
			break
		}
	}

	activity, err := r.Transcripts.Activity(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("report: activity: %w", err)
	}
	rep.Engagement.ActiveUserCount = activity.Users
	if activity.Users > 0 {
		rep.Engagement.AvgMessagesPerUser = float64(activity.Messages) / float64(activity.Users)
	}
	return rep, nil
}

// menuTopics maps every topic value of the active menus to its label.
func (r *Reporter) menuTopics() map[string]string {
	out := make(map[string]string)
	for _, level := range []conversation.PrivacyLevel{conversation.PrivacyLow, conversation.PrivacyMedium, conversation.PrivacyHigh} {
		for _, t := range conversation.TopicMenu(level, r.FullMenu) {
			out[t.Value] = t.Label
		}
	}
	return out
}

func priority(users int) string {
	switch {
	case users > highPriorityUsers:
		return "High"
	case users > mediumPriorityUsers:
		return "Medium"
	default:
		return "Low"
	}
}

var topicRecommendations = map[string][]string{
	"social media privacy basics": {
		"Review your privacy settings on all social platforms monthly",
		"Limit personal information in your public profiles",
		"Be cautious about what you share in public posts",
	},
	"safe browsing practices": {
		"Use HTTPS wherever a site offers it",
		"Regularly clear cookies and cache",
		"Avoid clicking on suspicious links",
	},
	"using encrypted messaging": {
		"Move sensitive conversations to an end-to-end encrypted messenger",
		"Verify security codes with important contacts",
		"Disable cloud backups for sensitive chats",
	},
}

var defaultRecommendations = []string{
	"Review your privacy settings regularly",
	"Consider upgrading your security practices",
	"Stay informed about new privacy features",
}

func recommendationsFor(topic string) []string {
	if rec, ok := topicRecommendations[topic]; ok {
		return append([]string(nil), rec...)
	}
	return append([]string(nil), defaultRecommendations...)
}
