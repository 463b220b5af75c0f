package models

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ItemType enumerates the schedulable canvas item kinds.
type ItemType string

const (
	ItemTypeAssignment ItemType = "assignment"
	ItemTypeExam       ItemType = "exam"
	ItemTypeQuiz       ItemType = "quiz"
)

func (t ItemType) valid() bool {
	switch t {
	case ItemTypeAssignment, ItemTypeExam, ItemTypeQuiz:
		return true
	default:
		return false
	}
}

// CanvasItem is a contract-aligned assignment, exam, or quiz.
type CanvasItem struct {
	ID             string   `json:"id"`
	CourseID       string   `json:"courseId"`
	Title          string   `json:"title"`
	ItemType       ItemType `json:"itemType"`
	DueAt          string   `json:"dueAt"`
	PointsPossible float64  `json:"pointsPossible"`
}

// Validate enforces the contract field constraints.
func (i CanvasItem) Validate() error {
	if i.ID == "" {
		return validationf("id: must not be empty")
	}
	if i.CourseID == "" {
		return validationf("courseId: must not be empty")
	}
	if i.Title == "" {
		return validationf("title: must not be empty")
	}
	if !i.ItemType.valid() {
		return validationf("itemType: unsupported value %q", string(i.ItemType))
	}
	if _, err := contractTimestamp(i.DueAt, "dueAt"); err != nil {
		return err
	}
	if i.PointsPossible < 0 {
		return validationf("pointsPossible: must be >= 0")
	}
	return nil
}

// CanvasItemFromAPI builds a CanvasItem from a wire payload with exact-key checks.
func CanvasItemFromAPI(payload map[string]any) (CanvasItem, error) {
	required := []string{"id", "courseId", "title", "itemType", "dueAt", "pointsPossible"}
	if err := requireExactKeys(payload, required, "CanvasItem"); err != nil {
		return CanvasItem{}, err
	}
	id, err := nonEmptyString(payload["id"], "id")
	if err != nil {
		return CanvasItem{}, err
	}
	courseID, err := nonEmptyString(payload["courseId"], "courseId")
	if err != nil {
		return CanvasItem{}, err
	}
	title, err := nonEmptyString(payload["title"], "title")
	if err != nil {
		return CanvasItem{}, err
	}
	itemType, err := nonEmptyString(payload["itemType"], "itemType")
	if err != nil {
		return CanvasItem{}, err
	}
	dueAt, err := contractTimestamp(payload["dueAt"], "dueAt")
	if err != nil {
		return CanvasItem{}, err
	}
	points, err := nonNegativeNumber(payload["pointsPossible"], "pointsPossible")
	if err != nil {
		return CanvasItem{}, err
	}
	item := CanvasItem{
		ID:             id,
		CourseID:       courseID,
		Title:          title,
		ItemType:       ItemType(itemType),
		DueAt:          dueAt,
		PointsPossible: points,
	}
	if err := item.Validate(); err != nil {
		return CanvasItem{}, err
	}
	return item, nil
}

// ToAPI serializes the item in exact contract field names.
func (i CanvasItem) ToAPI() map[string]any {
	return map[string]any{
		"id":             i.ID,
		"courseId":       i.CourseID,
		"title":          i.Title,
		"itemType":       string(i.ItemType),
		"dueAt":          i.DueAt,
		"pointsPossible": i.PointsPossible,
	}
}

type canvasItemRow struct {
	PK             string  `dynamodbav:"pk"`
	SK             string  `dynamodbav:"sk"`
	EntityType     string  `dynamodbav:"entityType"`
	UserID         string  `dynamodbav:"userId"`
	ID             string  `dynamodbav:"id"`
	CourseID       string  `dynamodbav:"courseId"`
	Title          string  `dynamodbav:"title"`
	ItemType       string  `dynamodbav:"itemType"`
	DueAt          string  `dynamodbav:"dueAt"`
	PointsPossible float64 `dynamodbav:"pointsPossible"`
	GSI1PK         string  `dynamodbav:"gsi1pk"`
	GSI1SK         string  `dynamodbav:"gsi1sk"`
	GSI2PK         string  `dynamodbav:"gsi2pk"`
	GSI2SK         string  `dynamodbav:"gsi2sk"`
	UpdatedAt      string  `dynamodbav:"updatedAt"`
}

// Item serializes the canvas item into table attributes. The sort key stays
// stable under due-date changes; due dates only move the index sort keys.
func (i CanvasItem) Item(userID, updatedAt string) (map[string]ddbtypes.AttributeValue, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationf("userId: must not be empty")
	}
	return attributevalue.MarshalMap(canvasItemRow{
		PK:             ItemPartitionKey(userID, i.CourseID),
		SK:             ItemSortKey(i.ID),
		EntityType:     EntityItem,
		UserID:         userID,
		ID:             i.ID,
		CourseID:       i.CourseID,
		Title:          i.Title,
		ItemType:       string(i.ItemType),
		DueAt:          i.DueAt,
		PointsPossible: i.PointsPossible,
		GSI1PK:         ItemPartitionKey(userID, i.CourseID),
		GSI1SK:         ItemDueSortKey(i.DueAt, i.ID),
		GSI2PK:         CoursePartitionKey(userID),
		GSI2SK:         UserDueSortKey(i.DueAt, i.CourseID, i.ID),
		UpdatedAt:      updatedAt,
	})
}

// CanvasItemFromItem rebuilds a CanvasItem from stored attributes.
func CanvasItemFromItem(item map[string]ddbtypes.AttributeValue) (CanvasItem, error) {
	var row canvasItemRow
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return CanvasItem{}, validationf("CanvasItem record: %v", err)
	}
	out := CanvasItem{
		ID:             row.ID,
		CourseID:       row.CourseID,
		Title:          row.Title,
		ItemType:       ItemType(row.ItemType),
		DueAt:          row.DueAt,
		PointsPossible: row.PointsPossible,
	}
	if err := out.Validate(); err != nil {
		return CanvasItem{}, err
	}
	return out, nil
}
