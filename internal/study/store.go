// Package study selects due cards, applies review results through the
// scheduler, and summarizes per-topic mastery.
package study

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/models"
)

// CardStore reads and writes runtime cards in the cards table.
type CardStore struct {
	db    awssdk.DynamoDBAPI
	table string
}

// NewCardStore wires a CardStore against the cards table.
func NewCardStore(db awssdk.DynamoDBAPI, table string) *CardStore {
	return &CardStore{db: db, table: table}
}

// Get loads one card plus its owning user id. Missing cards return
// (zero, "", nil).
func (s *CardStore) Get(ctx context.Context, cardID string) (models.Card, string, error) {
	if s.table == "" {
		return models.Card{}, "", apperr.NewMisconfigured("CARDS_TABLE")
	}
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"cardId": &ddbtypes.AttributeValueMemberS{Value: cardID},
		},
	})
	if err != nil {
		return models.Card{}, "", apperr.NewUpstream("card read", err)
	}
	if len(out.Item) == 0 {
		return models.Card{}, "", nil
	}
	card, err := models.CardFromItem(out.Item)
	if err != nil {
		return models.Card{}, "", err
	}
	owner := ""
	if v, ok := out.Item["userId"].(*ddbtypes.AttributeValueMemberS); ok {
		owner = v.Value
	}
	return card, owner, nil
}

// Put upserts one card row for the user. Full-row write: the review path
// is last-writer-wins by design.
func (s *CardStore) Put(ctx context.Context, userID string, card models.Card) error {
	if s.table == "" {
		return apperr.NewMisconfigured("CARDS_TABLE")
	}
	item, err := card.Item(userID)
	if err != nil {
		return err
	}
	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return apperr.NewUpstream("card write", err)
	}
	return nil
}

// ListCourseCards returns every card the user holds for one course. The
// cards table is keyed by cardId alone, so the course view is a filtered
// scan; card counts per user stay small enough that this is fine.
func (s *CardStore) ListCourseCards(ctx context.Context, userID, courseID string) ([]models.Card, error) {
	if s.table == "" {
		return nil, apperr.NewMisconfigured("CARDS_TABLE")
	}
	in := &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("userId = :u AND courseId = :c"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":u": &ddbtypes.AttributeValueMemberS{Value: userID},
			":c": &ddbtypes.AttributeValueMemberS{Value: courseID},
		},
	}
	var cards []models.Card
	for {
		out, err := s.db.Scan(ctx, in)
		if err != nil {
			return nil, apperr.NewUpstream("card scan", err)
		}
		for _, item := range out.Items {
			card, err := models.CardFromItem(item)
			if err != nil {
				continue
			}
			cards = append(cards, card)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return cards, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
