package study

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"studybuddy/internal/apperr"
	"studybuddy/internal/fsrs"
	"studybuddy/internal/logging"
	"studybuddy/internal/models"
	"studybuddy/internal/timez"
)

const (
	todayCap       = 50
	emptyFallback  = 5
	examWindow     = 7 * 24 * time.Hour
	boosterCutoff  = 0.5
	masteryCeiling = 10.0
)

// ItemSource resolves a course's schedule items for the exam window.
type ItemSource interface {
	ListCourseItems(ctx context.Context, userID, courseID string) ([]models.CanvasItem, error)
}

// TopicMastery is one row of the mastery summary.
type TopicMastery struct {
	TopicID      string  `json:"topicId"`
	CourseID     string  `json:"courseId"`
	MasteryLevel float64 `json:"masteryLevel"`
	DueCards     int     `json:"dueCards"`
}

// ReviewRequest is the POST /study/review payload.
type ReviewRequest struct {
	CardID     string `json:"cardId"`
	CourseID   string `json:"courseId"`
	Rating     int    `json:"rating"`
	ReviewedAt string `json:"reviewedAt"`
}

// Service implements study selection, review, and mastery.
type Service struct {
	cards *CardStore
	items ItemSource
	log   logging.Logger
	now   func() time.Time
}

// NewService wires a Service.
func NewService(cards *CardStore, items ItemSource, log logging.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{cards: cards, items: items, log: logging.OrNop(log), now: now}
}

// cardMastery maps stored stability onto [0,1]; unreviewed cards count 0.
func cardMastery(card models.Card) float64 {
	if card.FSRS == nil {
		return 0
	}
	m := card.FSRS.Stability / masteryCeiling
	if m < 0 {
		return 0
	}
	if m > 1 {
		return 1
	}
	return m
}

func sortCards(cards []models.Card) {
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].DueAt != cards[j].DueAt {
			return cards[i].DueAt < cards[j].DueAt
		}
		return cards[i].ID < cards[j].ID
	})
}

// examWindowNear resolves the exam window per the selection rules: an
// explicit examId wins; otherwise the nearest future exam item. Near means
// due within the next seven days.
func (s *Service) examWindowNear(ctx context.Context, userID, courseID, examID string, now time.Time) bool {
	if s.items == nil {
		return false
	}
	items, err := s.items.ListCourseItems(ctx, userID, courseID)
	if err != nil {
		s.log.Warn("exam lookup failed for course %s: %v", courseID, err)
		return false
	}

	var examAt *time.Time
	if examID != "" {
		for _, item := range items {
			if item.ID == examID {
				if t, err := timez.Parse(item.DueAt); err == nil {
					examAt = &t
				}
				break
			}
		}
	} else {
		for _, item := range items {
			if item.ItemType != models.ItemTypeExam {
				continue
			}
			t, err := timez.Parse(item.DueAt)
			if err != nil || t.Before(now) {
				continue
			}
			if examAt == nil || t.Before(*examAt) {
				examAt = &t
			}
		}
	}
	if examAt == nil {
		return false
	}
	gap := examAt.Sub(now)
	return gap >= 0 && gap <= examWindow
}

// Today returns the study queue for one course.
func (s *Service) Today(ctx context.Context, userID, courseID, examID string) ([]models.Card, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, apperr.NewValidation("'courseId' is required")
	}
	cards, err := s.cards.ListCourseCards(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	sortCards(cards)

	now := s.now().UTC()
	nowStamp := timez.Format(now)
	var queue, rest []models.Card
	for _, card := range cards {
		if card.DueAt <= nowStamp {
			queue = append(queue, card)
		} else {
			rest = append(rest, card)
		}
	}

	if s.examWindowNear(ctx, userID, courseID, examID, now) {
		topicMastery := map[string]float64{}
		topicCount := map[string]int{}
		for _, card := range cards {
			topicMastery[card.TopicID] += cardMastery(card)
			topicCount[card.TopicID]++
		}
		for topic := range topicMastery {
			topicMastery[topic] /= float64(topicCount[topic])
		}

		var boosters []models.Card
		for _, card := range rest {
			if topicMastery[card.TopicID] < boosterCutoff {
				boosters = append(boosters, card)
			}
		}
		sort.Slice(boosters, func(i, j int) bool {
			mi, mj := topicMastery[boosters[i].TopicID], topicMastery[boosters[j].TopicID]
			if mi != mj {
				return mi < mj
			}
			if boosters[i].DueAt != boosters[j].DueAt {
				return boosters[i].DueAt < boosters[j].DueAt
			}
			return boosters[i].ID < boosters[j].ID
		})
		queue = append(queue, boosters...)
	}

	if len(queue) == 0 {
		queue = cards
		if len(queue) > emptyFallback {
			queue = queue[:emptyFallback]
		}
	}
	if len(queue) > todayCap {
		queue = queue[:todayCap]
	}
	if queue == nil {
		queue = []models.Card{}
	}
	return queue, nil
}

// Review applies one rating to a card and persists the new schedule.
func (s *Service) Review(ctx context.Context, userID string, req ReviewRequest) error {
	if strings.TrimSpace(req.CardID) == "" || strings.TrimSpace(req.CourseID) == "" {
		return apperr.NewValidation("'cardId' and 'courseId' are required")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return apperr.NewValidation("'rating' must be an integer between 1 and 5")
	}
	reviewedAt, err := timez.Parse(req.ReviewedAt)
	if err != nil {
		return apperr.NewValidation("'reviewedAt' must be an RFC3339 UTC timestamp")
	}

	card, owner, err := s.cards.Get(ctx, req.CardID)
	if err != nil {
		return err
	}
	if card.ID == "" || owner != userID || card.CourseID != req.CourseID {
		return apperr.NewNotFound("card %s not found", req.CardID)
	}

	// Ratings above 4 collapse onto Easy.
	rating := req.Rating
	if rating > 4 {
		rating = 4
	}
	next, err := fsrs.Schedule(card.FSRS, rating, reviewedAt)
	if err != nil {
		return err
	}
	card.ApplyReview(next)
	return s.cards.Put(ctx, userID, card)
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}

// Mastery summarizes per-topic mastery and due counts for one course.
func (s *Service) Mastery(ctx context.Context, userID, courseID string) ([]TopicMastery, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, apperr.NewValidation("'courseId' is required")
	}
	cards, err := s.cards.ListCourseCards(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}

	nowStamp := timez.Format(s.now())
	sums := map[string]float64{}
	counts := map[string]int{}
	due := map[string]int{}
	for _, card := range cards {
		sums[card.TopicID] += cardMastery(card)
		counts[card.TopicID]++
		if card.DueAt <= nowStamp {
			due[card.TopicID]++
		}
	}

	out := make([]TopicMastery, 0, len(sums))
	for topicID := range sums {
		out = append(out, TopicMastery{
			TopicID:      topicID,
			CourseID:     courseID,
			MasteryLevel: round4(sums[topicID] / float64(counts[topicID])),
			DueCards:     due[topicID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out, nil
}
