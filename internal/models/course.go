// Package models defines the validated domain entities and the primary /
// secondary key derivations used by the canvas data store.
package models

import (
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var hexColorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Course is a contract-aligned course owned by one user.
type Course struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Term  string `json:"term"`
	Color string `json:"color"`
}

// Validate enforces the contract field constraints.
func (c Course) Validate() error {
	if c.ID == "" {
		return validationf("id: must not be empty")
	}
	if c.Name == "" {
		return validationf("name: must not be empty")
	}
	if c.Term == "" {
		return validationf("term: must not be empty")
	}
	if !hexColorRe.MatchString(c.Color) {
		return validationf("color: expected #RRGGBB format")
	}
	return nil
}

// CourseFromAPI builds a Course from a wire payload with exact-key checks.
func CourseFromAPI(payload map[string]any) (Course, error) {
	if err := requireExactKeys(payload, []string{"id", "name", "term", "color"}, "Course"); err != nil {
		return Course{}, err
	}
	id, err := nonEmptyString(payload["id"], "id")
	if err != nil {
		return Course{}, err
	}
	name, err := nonEmptyString(payload["name"], "name")
	if err != nil {
		return Course{}, err
	}
	term, err := nonEmptyString(payload["term"], "term")
	if err != nil {
		return Course{}, err
	}
	color, err := nonEmptyString(payload["color"], "color")
	if err != nil {
		return Course{}, err
	}
	course := Course{ID: id, Name: name, Term: term, Color: color}
	if err := course.Validate(); err != nil {
		return Course{}, err
	}
	return course, nil
}

// ToAPI serializes the course in exact contract field names.
func (c Course) ToAPI() map[string]any {
	return map[string]any{
		"id":    c.ID,
		"name":  c.Name,
		"term":  c.Term,
		"color": c.Color,
	}
}

type courseRow struct {
	PK         string `dynamodbav:"pk"`
	SK         string `dynamodbav:"sk"`
	EntityType string `dynamodbav:"entityType"`
	UserID     string `dynamodbav:"userId"`
	ID         string `dynamodbav:"id"`
	Name       string `dynamodbav:"name"`
	Term       string `dynamodbav:"term"`
	Color      string `dynamodbav:"color"`
	GSI1PK     string `dynamodbav:"gsi1pk"`
	GSI1SK     string `dynamodbav:"gsi1sk"`
	UpdatedAt  string `dynamodbav:"updatedAt"`
}

// Item serializes the course into canvas data table attributes.
func (c Course) Item(userID, updatedAt string) (map[string]ddbtypes.AttributeValue, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationf("userId: must not be empty")
	}
	return attributevalue.MarshalMap(courseRow{
		PK:         CoursePartitionKey(userID),
		SK:         CourseSortKey(c.ID),
		EntityType: EntityCourse,
		UserID:     userID,
		ID:         c.ID,
		Name:       c.Name,
		Term:       c.Term,
		Color:      c.Color,
		GSI1PK:     CoursePartitionKey(userID),
		GSI1SK:     "COURSE_NAME#" + strings.ToLower(c.Name) + "#COURSE#" + c.ID,
		UpdatedAt:  updatedAt,
	})
}

// CourseFromItem rebuilds a Course from stored attributes.
func CourseFromItem(item map[string]ddbtypes.AttributeValue) (Course, error) {
	var row courseRow
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return Course{}, validationf("Course record: %v", err)
	}
	course := Course{ID: row.ID, Name: row.Name, Term: row.Term, Color: row.Color}
	if err := course.Validate(); err != nil {
		return Course{}, err
	}
	return course, nil
}
