package models

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CanvasConnection binds a user to an LMS instance and access token.
// At most one exists per user; connect upserts it in place.
type CanvasConnection struct {
	UserID        string `json:"userId"`
	CanvasBaseURL string `json:"canvasBaseUrl"`
	AccessToken   string `json:"accessToken"`
	UpdatedAt     string `json:"updatedAt"`
}

// Validate enforces the contract field constraints.
func (c CanvasConnection) Validate() error {
	if c.UserID == "" {
		return validationf("userId: must not be empty")
	}
	if c.CanvasBaseURL == "" {
		return validationf("canvasBaseUrl: must not be empty")
	}
	if c.AccessToken == "" {
		return validationf("accessToken: must not be empty")
	}
	if _, err := contractTimestamp(c.UpdatedAt, "updatedAt"); err != nil {
		return err
	}
	return nil
}

type connectionRow struct {
	PK            string `dynamodbav:"pk"`
	SK            string `dynamodbav:"sk"`
	EntityType    string `dynamodbav:"entityType"`
	UserID        string `dynamodbav:"userId"`
	CanvasBaseURL string `dynamodbav:"canvasBaseUrl"`
	AccessToken   string `dynamodbav:"accessToken"`
	UpdatedAt     string `dynamodbav:"updatedAt"`
}

// Item serializes the connection at its fixed per-user key.
func (c CanvasConnection) Item() (map[string]ddbtypes.AttributeValue, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return attributevalue.MarshalMap(connectionRow{
		PK:            CoursePartitionKey(c.UserID),
		SK:            ConnectionSortKey,
		EntityType:    EntityConnection,
		UserID:        c.UserID,
		CanvasBaseURL: c.CanvasBaseURL,
		AccessToken:   c.AccessToken,
		UpdatedAt:     c.UpdatedAt,
	})
}

// ConnectionFromItem rebuilds a CanvasConnection from stored attributes.
func ConnectionFromItem(item map[string]ddbtypes.AttributeValue) (CanvasConnection, error) {
	var row connectionRow
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return CanvasConnection{}, validationf("CanvasConnection record: %v", err)
	}
	out := CanvasConnection{
		UserID:        row.UserID,
		CanvasBaseURL: row.CanvasBaseURL,
		AccessToken:   row.AccessToken,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := out.Validate(); err != nil {
		return CanvasConnection{}, err
	}
	return out, nil
}
