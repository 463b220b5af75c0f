package models

import "fmt"

// Entity type discriminators stored on every row in the canvas data table.
const (
	EntityCourse     = "CanvasCourse"
	EntityItem       = "CanvasItem"
	EntityMaterial   = "CanvasMaterial"
	EntityConnection = "CanvasConnection"
)

// ConnectionSortKey is the fixed sort key of the single per-user connection.
const ConnectionSortKey = "CANVAS_CONNECTION#default"

// CoursePartitionKey groups all course rows for a user.
func CoursePartitionKey(userID string) string {
	return fmt.Sprintf("USER#%s", userID)
}

// CourseSortKey identifies one course row.
func CourseSortKey(courseID string) string {
	return fmt.Sprintf("COURSE#%s", courseID)
}

// ItemPartitionKey groups all canvas items under a user+course.
func ItemPartitionKey(userID, courseID string) string {
	return fmt.Sprintf("USER#%s#COURSE#%s", userID, courseID)
}

// ItemSortKey is stable per item; due-date changes never move the row.
func ItemSortKey(itemID string) string {
	return fmt.Sprintf("ITEM#%s", itemID)
}

// ItemDueSortKey sorts items by due date within one course (secondary index).
func ItemDueSortKey(dueAt, itemID string) string {
	return fmt.Sprintf("DUE#%s#ITEM#%s", dueAt, itemID)
}

// UserDueSortKey sorts items by due date across a user's courses
// (secondary index backing the calendar feed).
func UserDueSortKey(dueAt, courseID, itemID string) string {
	return fmt.Sprintf("DUE#%s#COURSE#%s#ITEM#%s", dueAt, courseID, itemID)
}

// MaterialSortKey identifies one mirrored course material row.
func MaterialSortKey(canvasFileID string) string {
	return fmt.Sprintf("MATERIAL#%s", canvasFileID)
}
