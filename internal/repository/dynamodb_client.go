package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"whatsapp-relay/internal/domain"
)

const (
	pkPrefixSender = "SENDER#"
	skPrefixTurn   = "TURN#"
	ttlDuration    = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client archives completed exchanges to a DynamoDB table for operator
// review. The relay never reads the archive back into its in-memory state.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// senderPK returns the DynamoDB partition key for a sender.
func senderPK(senderID string) string {
	return pkPrefixSender + senderID
}

// turnSK returns the sort key for an exchange at ts.
func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(time.RFC3339Nano)
}

// SaveTranscript writes one completed exchange. The write is conditional so a
// replayed record never overwrites an earlier one.
func (c *Client) SaveTranscript(ctx context.Context, rec domain.TranscriptRecord) error {
	if strings.TrimSpace(rec.SenderID) == "" {
		return errors.New("repository: SaveTranscript: sender id is required")
	}
	at := rec.At
	if at.IsZero() {
		at = c.now()
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                transcriptItem(rec, at, at.Add(ttlDuration).Unix()),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTranscript: %w", err)
	}
	return nil
}

// ListTranscripts returns up to limit archived exchanges for a sender, oldest
// first.
func (c *Client) ListTranscripts(ctx context.Context, senderID string, limit int) ([]domain.TranscriptRecord, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: senderPK(senderID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent exchanges.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTranscripts query: %w", err)
	}

	recs := make([]domain.TranscriptRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToTranscript(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTranscripts unmarshal: %w", err)
		}
		recs = append(recs, rec)
	}
	// Reverse to chronological order.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

func transcriptItem(rec domain.TranscriptRecord, at time.Time, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: senderPK(rec.SenderID)},
		"SK":             &types.AttributeValueMemberS{Value: turnSK(at)},
		"senderId":       &types.AttributeValueMemberS{Value: rec.SenderID},
		"conversationId": &types.AttributeValueMemberS{Value: rec.ConversationID},
		"messageId":      &types.AttributeValueMemberS{Value: rec.MessageID},
		"text":           &types.AttributeValueMemberS{Value: rec.Question},
		"answer":         &types.AttributeValueMemberS{Value: rec.Answer},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func itemToTranscript(item map[string]types.AttributeValue) (domain.TranscriptRecord, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.TranscriptRecord{}, err
	}
	sender, err := strAttr(item, "senderId")
	if err != nil {
		return domain.TranscriptRecord{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.TranscriptRecord{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(sk, skPrefixTurn))
	if err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("repository: parse sort key %q: %w", sk, err)
	}
	convID, _ := strAttr(item, "conversationId") // allow empty
	msgID, _ := strAttr(item, "messageId")       // allow empty
	answer, _ := strAttr(item, "answer")         // allow empty

	return domain.TranscriptRecord{
		SenderID:       sender,
		ConversationID: convID,
		MessageID:      msgID,
		Question:       text,
		Answer:         answer,
		At:             at,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
