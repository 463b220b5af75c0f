// Package lmssync mirrors a user's Canvas account into the local stores:
// connection records, course and schedule rows, and course materials copied
// into object storage for retrieval indexing.
package lmssync

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/models"
)

// Secondary index names on the canvas data table.
const (
	GSI1Name = "gsi1"
	GSI2Name = "gsi2"
)

// Store reads and writes the single-table canvas data layout.
type Store struct {
	db    awssdk.DynamoDBAPI
	table string
}

// NewStore wires a Store against the canvas data table.
func NewStore(db awssdk.DynamoDBAPI, table string) *Store {
	return &Store{db: db, table: table}
}

func (s *Store) put(ctx context.Context, op string, item map[string]ddbtypes.AttributeValue) error {
	if s.table == "" {
		return apperr.NewMisconfigured("CANVAS_DATA_TABLE")
	}
	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return apperr.NewUpstream(op, err)
	}
	return nil
}

// query pages through a key-condition query and returns all items.
func (s *Store) query(ctx context.Context, op string, in *dynamodb.QueryInput) ([]map[string]ddbtypes.AttributeValue, error) {
	if s.table == "" {
		return nil, apperr.NewMisconfigured("CANVAS_DATA_TABLE")
	}
	in.TableName = aws.String(s.table)
	var items []map[string]ddbtypes.AttributeValue
	for {
		out, err := s.db.Query(ctx, in)
		if err != nil {
			return nil, apperr.NewUpstream(op, err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func prefixQuery(pk, skPrefix string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :sk)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: pk},
			":sk": &ddbtypes.AttributeValueMemberS{Value: skPrefix},
		},
	}
}

// PutConnection upserts the per-user connection at its fixed key.
func (s *Store) PutConnection(ctx context.Context, conn models.CanvasConnection) error {
	item, err := conn.Item()
	if err != nil {
		return err
	}
	return s.put(ctx, "connection write", item)
}

// GetConnection loads one user's connection. Missing rows return (nil, nil).
func (s *Store) GetConnection(ctx context.Context, userID string) (*models.CanvasConnection, error) {
	if s.table == "" {
		return nil, apperr.NewMisconfigured("CANVAS_DATA_TABLE")
	}
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"pk": &ddbtypes.AttributeValueMemberS{Value: models.CoursePartitionKey(userID)},
			"sk": &ddbtypes.AttributeValueMemberS{Value: models.ConnectionSortKey},
		},
	})
	if err != nil {
		return nil, apperr.NewUpstream("connection read", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	conn, err := models.ConnectionFromItem(out.Item)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// ListConnections scans every stored connection for the scheduled batch.
func (s *Store) ListConnections(ctx context.Context) ([]models.CanvasConnection, error) {
	if s.table == "" {
		return nil, apperr.NewMisconfigured("CANVAS_DATA_TABLE")
	}
	in := &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("#t = :t"),
		ExpressionAttributeNames: map[string]string{
			"#t": "entityType",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":t": &ddbtypes.AttributeValueMemberS{Value: models.EntityConnection},
		},
	}
	var conns []models.CanvasConnection
	for {
		out, err := s.db.Scan(ctx, in)
		if err != nil {
			return nil, apperr.NewUpstream("connection scan", err)
		}
		for _, item := range out.Items {
			conn, err := models.ConnectionFromItem(item)
			if err != nil {
				continue
			}
			conns = append(conns, conn)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return conns, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// UpsertCourse writes one course row for the user.
func (s *Store) UpsertCourse(ctx context.Context, userID string, course models.Course, updatedAt string) error {
	item, err := course.Item(userID, updatedAt)
	if err != nil {
		return err
	}
	return s.put(ctx, "course write", item)
}

// ListCourses returns the user's courses ordered by lowercased name.
func (s *Store) ListCourses(ctx context.Context, userID string) ([]models.Course, error) {
	in := &dynamodb.QueryInput{
		IndexName:              aws.String(GSI1Name),
		KeyConditionExpression: aws.String("gsi1pk = :pk AND begins_with(gsi1sk, :sk)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: models.CoursePartitionKey(userID)},
			":sk": &ddbtypes.AttributeValueMemberS{Value: "COURSE_NAME#"},
		},
	}
	items, err := s.query(ctx, "course list", in)
	if err != nil {
		return nil, err
	}
	courses := make([]models.Course, 0, len(items))
	for _, item := range items {
		course, err := models.CourseFromItem(item)
		if err != nil {
			continue
		}
		courses = append(courses, course)
	}
	return courses, nil
}

// UpsertItem writes one schedule item row for the user.
func (s *Store) UpsertItem(ctx context.Context, userID string, item models.CanvasItem, updatedAt string) error {
	attrs, err := item.Item(userID, updatedAt)
	if err != nil {
		return err
	}
	return s.put(ctx, "item write", attrs)
}

// ListCourseItems returns one course's schedule items ordered by due date.
func (s *Store) ListCourseItems(ctx context.Context, userID, courseID string) ([]models.CanvasItem, error) {
	in := &dynamodb.QueryInput{
		IndexName:              aws.String(GSI1Name),
		KeyConditionExpression: aws.String("gsi1pk = :pk AND begins_with(gsi1sk, :sk)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: models.ItemPartitionKey(userID, courseID)},
			":sk": &ddbtypes.AttributeValueMemberS{Value: "DUE#"},
		},
	}
	items, err := s.query(ctx, "item list", in)
	if err != nil {
		return nil, err
	}
	out := make([]models.CanvasItem, 0, len(items))
	for _, item := range items {
		row, err := models.CanvasItemFromItem(item)
		if err != nil {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// ListUserItems returns every schedule item for the user across courses,
// ordered by due date. Backs the calendar feed.
func (s *Store) ListUserItems(ctx context.Context, userID string) ([]models.CanvasItem, error) {
	in := &dynamodb.QueryInput{
		IndexName:              aws.String(GSI2Name),
		KeyConditionExpression: aws.String("gsi2pk = :pk AND begins_with(gsi2sk, :sk)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: models.CoursePartitionKey(userID)},
			":sk": &ddbtypes.AttributeValueMemberS{Value: "DUE#"},
		},
	}
	items, err := s.query(ctx, "user item list", in)
	if err != nil {
		return nil, err
	}
	out := make([]models.CanvasItem, 0, len(items))
	for _, item := range items {
		row, err := models.CanvasItemFromItem(item)
		if err != nil {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// UpsertMaterial writes one mirrored material row for the user.
func (s *Store) UpsertMaterial(ctx context.Context, userID string, material models.CanvasMaterial) error {
	item, err := material.Item(userID)
	if err != nil {
		return err
	}
	return s.put(ctx, "material write", item)
}

// ListMaterials returns one course's mirrored materials.
func (s *Store) ListMaterials(ctx context.Context, userID, courseID string) ([]models.CanvasMaterial, error) {
	items, err := s.query(ctx, "material list",
		prefixQuery(models.ItemPartitionKey(userID, courseID), "MATERIAL#"))
	if err != nil {
		return nil, err
	}
	out := make([]models.CanvasMaterial, 0, len(items))
	for _, item := range items {
		row, err := models.MaterialFromItem(item)
		if err != nil {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// GetMaterial loads one material row by its exact key. Missing rows return
// (nil, nil); the ownership check at the API boundary depends on that.
func (s *Store) GetMaterial(ctx context.Context, userID, courseID, canvasFileID string) (*models.CanvasMaterial, error) {
	if s.table == "" {
		return nil, apperr.NewMisconfigured("CANVAS_DATA_TABLE")
	}
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"pk": &ddbtypes.AttributeValueMemberS{Value: models.ItemPartitionKey(userID, courseID)},
			"sk": &ddbtypes.AttributeValueMemberS{Value: models.MaterialSortKey(canvasFileID)},
		},
	})
	if err != nil {
		return nil, apperr.NewUpstream("material read", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	material, err := models.MaterialFromItem(out.Item)
	if err != nil {
		return nil, err
	}
	return &material, nil
}
