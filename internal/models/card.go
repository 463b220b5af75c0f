package models

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studybuddy/internal/fsrs"
)

// Card is one flashcard with optional scheduling state. DueAt mirrors
// FSRS.DueAt whenever FSRS is set; unreviewed cards carry their creation
// due date and a nil FSRS.
type Card struct {
	ID          string      `json:"id"`
	CourseID    string      `json:"courseId"`
	TopicID     string      `json:"topicId"`
	Prompt      string      `json:"prompt"`
	Answer      string      `json:"answer"`
	Citations   []string    `json:"citations,omitempty"`
	FSRS        *fsrs.State `json:"fsrsState,omitempty"`
	DueAt       string      `json:"dueAt"`
	ReviewCount int         `json:"reviewCount"`
}

// Validate enforces the card invariants, including the DueAt mirror.
func (c Card) Validate() error {
	if c.ID == "" {
		return validationf("id: must not be empty")
	}
	if c.CourseID == "" {
		return validationf("courseId: must not be empty")
	}
	if c.TopicID == "" {
		return validationf("topicId: must not be empty")
	}
	if c.Prompt == "" {
		return validationf("prompt: must not be empty")
	}
	if c.Answer == "" {
		return validationf("answer: must not be empty")
	}
	if _, err := contractTimestamp(c.DueAt, "dueAt"); err != nil {
		return err
	}
	if c.ReviewCount < 0 {
		return validationf("reviewCount: must be >= 0")
	}
	if c.FSRS != nil {
		if err := c.FSRS.Validate(); err != nil {
			return validationf("fsrsState: %v", err)
		}
		if c.FSRS.DueAt != c.DueAt {
			return validationf("dueAt: must equal fsrsState.dueAt")
		}
	}
	return nil
}

// ApplyReview installs a freshly scheduled state and keeps the mirror in sync.
func (c *Card) ApplyReview(next fsrs.State) {
	c.FSRS = &next
	c.DueAt = next.DueAt
	c.ReviewCount++
}

// ToAPI serializes the card in exact contract field names.
func (c Card) ToAPI() map[string]any {
	out := map[string]any{
		"id":          c.ID,
		"courseId":    c.CourseID,
		"topicId":     c.TopicID,
		"prompt":      c.Prompt,
		"answer":      c.Answer,
		"dueAt":       c.DueAt,
		"reviewCount": c.ReviewCount,
	}
	if len(c.Citations) > 0 {
		out["citations"] = c.Citations
	}
	if c.FSRS != nil {
		out["fsrsState"] = map[string]any{
			"dueAt":          c.FSRS.DueAt,
			"stability":      c.FSRS.Stability,
			"difficulty":     c.FSRS.Difficulty,
			"reps":           c.FSRS.Reps,
			"lapses":         c.FSRS.Lapses,
			"lastReviewedAt": c.FSRS.LastReviewedAt,
		}
	}
	return out
}

type cardRow struct {
	CardID      string      `dynamodbav:"cardId"`
	CourseID    string      `dynamodbav:"courseId"`
	TopicID     string      `dynamodbav:"topicId"`
	Prompt      string      `dynamodbav:"prompt"`
	Answer      string      `dynamodbav:"answer"`
	Citations   []string    `dynamodbav:"citations,omitempty"`
	FSRS        *fsrs.State `dynamodbav:"fsrsState,omitempty"`
	DueAt       string      `dynamodbav:"dueAt"`
	ReviewCount int         `dynamodbav:"reviewCount"`
	UserID      string      `dynamodbav:"userId"`
}

// Item serializes the card into cards table attributes.
func (c Card) Item(userID string) (map[string]ddbtypes.AttributeValue, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationf("userId: must not be empty")
	}
	return attributevalue.MarshalMap(cardRow{
		CardID:      c.ID,
		CourseID:    c.CourseID,
		TopicID:     c.TopicID,
		Prompt:      c.Prompt,
		Answer:      c.Answer,
		Citations:   c.Citations,
		FSRS:        c.FSRS,
		DueAt:       c.DueAt,
		ReviewCount: c.ReviewCount,
		UserID:      userID,
	})
}

// CardFromItem rebuilds a Card from stored attributes.
func CardFromItem(item map[string]ddbtypes.AttributeValue) (Card, error) {
	var row cardRow
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return Card{}, validationf("Card record: %v", err)
	}
	out := Card{
		ID:          row.CardID,
		CourseID:    row.CourseID,
		TopicID:     row.TopicID,
		Prompt:      row.Prompt,
		Answer:      row.Answer,
		Citations:   row.Citations,
		FSRS:        row.FSRS,
		DueAt:       row.DueAt,
		ReviewCount: row.ReviewCount,
	}
	if err := out.Validate(); err != nil {
		return Card{}, err
	}
	return out, nil
}
