package models

import (
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeFileName collapses runs of characters outside [A-Za-z0-9._-] to "_"
// so display names become storable key segments.
func SafeFileName(name string) string {
	return unsafeNameRe.ReplaceAllString(name, "_")
}

// MaterialObjectKey is the canonical object store layout for mirrored
// course materials. Bit-exact; the retrieval scope check depends on it.
func MaterialObjectKey(userID, courseID, canvasFileID, displayName string) string {
	return fmt.Sprintf("uploads/canvas-materials/%s/%s/%s/%s",
		userID, courseID, canvasFileID, SafeFileName(displayName))
}

// CanvasMaterial is one mirrored course file.
type CanvasMaterial struct {
	CanvasFileID string `json:"canvasFileId"`
	CourseID     string `json:"courseId"`
	DisplayName  string `json:"displayName"`
	ContentType  string `json:"contentType"`
	SizeBytes    int64  `json:"sizeBytes"`
	UpdatedAt    string `json:"updatedAt"`
	DownloadURL  string `json:"downloadUrl"`
	S3Key        string `json:"s3Key"`
}

// Validate enforces the contract field constraints. DownloadURL and S3Key
// are populated at different pipeline stages and stay optional here.
func (m CanvasMaterial) Validate() error {
	if m.CanvasFileID == "" {
		return validationf("canvasFileId: must not be empty")
	}
	if m.CourseID == "" {
		return validationf("courseId: must not be empty")
	}
	if m.DisplayName == "" {
		return validationf("displayName: must not be empty")
	}
	if m.ContentType == "" {
		return validationf("contentType: must not be empty")
	}
	if m.SizeBytes < 0 {
		return validationf("sizeBytes: must be >= 0")
	}
	if _, err := contractTimestamp(m.UpdatedAt, "updatedAt"); err != nil {
		return err
	}
	return nil
}

// ToAPI serializes the material for list responses. downloadUrl and s3Key
// are internal and never leave the service.
func (m CanvasMaterial) ToAPI() map[string]any {
	return map[string]any{
		"canvasFileId": m.CanvasFileID,
		"courseId":     m.CourseID,
		"displayName":  m.DisplayName,
		"contentType":  m.ContentType,
		"sizeBytes":    m.SizeBytes,
		"updatedAt":    m.UpdatedAt,
	}
}

type materialRow struct {
	PK           string `dynamodbav:"pk"`
	SK           string `dynamodbav:"sk"`
	EntityType   string `dynamodbav:"entityType"`
	UserID       string `dynamodbav:"userId"`
	CanvasFileID string `dynamodbav:"canvasFileId"`
	CourseID     string `dynamodbav:"courseId"`
	DisplayName  string `dynamodbav:"displayName"`
	ContentType  string `dynamodbav:"contentType"`
	SizeBytes    int64  `dynamodbav:"sizeBytes"`
	UpdatedAt    string `dynamodbav:"updatedAt"`
	DownloadURL  string `dynamodbav:"downloadUrl"`
	S3Key        string `dynamodbav:"s3Key"`
}

// Item serializes the material into canvas data table attributes.
func (m CanvasMaterial) Item(userID string) (map[string]ddbtypes.AttributeValue, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationf("userId: must not be empty")
	}
	return attributevalue.MarshalMap(materialRow{
		PK:           ItemPartitionKey(userID, m.CourseID),
		SK:           MaterialSortKey(m.CanvasFileID),
		EntityType:   EntityMaterial,
		UserID:       userID,
		CanvasFileID: m.CanvasFileID,
		CourseID:     m.CourseID,
		DisplayName:  m.DisplayName,
		ContentType:  m.ContentType,
		SizeBytes:    m.SizeBytes,
		UpdatedAt:    m.UpdatedAt,
		DownloadURL:  m.DownloadURL,
		S3Key:        m.S3Key,
	})
}

// MaterialFromItem rebuilds a CanvasMaterial from stored attributes.
func MaterialFromItem(item map[string]ddbtypes.AttributeValue) (CanvasMaterial, error) {
	var row materialRow
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return CanvasMaterial{}, validationf("CanvasMaterial record: %v", err)
	}
	out := CanvasMaterial{
		CanvasFileID: row.CanvasFileID,
		CourseID:     row.CourseID,
		DisplayName:  row.DisplayName,
		ContentType:  row.ContentType,
		SizeBytes:    row.SizeBytes,
		UpdatedAt:    row.UpdatedAt,
		DownloadURL:  row.DownloadURL,
		S3Key:        row.S3Key,
	}
	if err := out.Validate(); err != nil {
		return CanvasMaterial{}, err
	}
	return out, nil
}
