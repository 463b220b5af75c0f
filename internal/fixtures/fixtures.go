// Package fixtures embeds the demo dataset served when demo mode is on
// and the live stores are empty.
package fixtures

import (
	"encoding/json"
	"fmt"
	"sync"

	_ "embed"

	"github.com/samber/lo"

	"studybuddy/internal/models"
	"studybuddy/internal/study"
)

var (
	//go:embed courses.json
	coursesJSON []byte
	//go:embed canvas_items.json
	itemsJSON []byte
	//go:embed cards.json
	cardsJSON []byte
	//go:embed topics.json
	topicsJSON []byte
)

// Set is the loaded demo dataset.
type Set struct {
	Courses []models.Course
	Items   []models.CanvasItem
	Cards   []models.Card
	Topics  []study.TopicMastery
}

var (
	loadOnce sync.Once
	loaded   *Set
	loadErr  error
)

func decode(name string, raw []byte, out any) {
	if loadErr != nil {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		loadErr = fmt.Errorf("fixture %s: %w", name, err)
	}
}

// Load parses the embedded dataset once and reuses it afterwards.
func Load() (*Set, error) {
	loadOnce.Do(func() {
		set := &Set{}
		decode("courses.json", coursesJSON, &set.Courses)
		decode("canvas_items.json", itemsJSON, &set.Items)
		decode("cards.json", cardsJSON, &set.Cards)
		decode("topics.json", topicsJSON, &set.Topics)
		loaded = set
	})
	return loaded, loadErr
}

// CourseItems returns the demo items for one course.
func (s *Set) CourseItems(courseID string) []models.CanvasItem {
	return lo.Filter(s.Items, func(item models.CanvasItem, _ int) bool {
		return item.CourseID == courseID
	})
}

// CourseCards returns the demo cards for one course.
func (s *Set) CourseCards(courseID string) []models.Card {
	return lo.Filter(s.Cards, func(card models.Card, _ int) bool {
		return card.CourseID == courseID
	})
}

// CourseTopics returns the demo mastery rows for one course.
func (s *Set) CourseTopics(courseID string) []study.TopicMastery {
	return lo.Filter(s.Topics, func(topic study.TopicMastery, _ int) bool {
		return topic.CourseID == courseID
	})
}
