package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"blackbox-agent/internal/conversation"
	"blackbox-agent/internal/domain"
)

const (
	pkPrefix    = "CHAT#"
	skSnapshot  = "SNAPSHOT"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Dynamo.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Dynamo stores one snapshot item per conversation in a DynamoDB table.
// It is a blocking backend.
type Dynamo struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

var _ conversation.SyncBackend = (*Dynamo)(nil)

// NewDynamo creates a DynamoDB-backed conversation backend.
func NewDynamo(api dynamodbAPI, tableName string) (*Dynamo, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Dynamo{api: api, tableName: tableName, now: time.Now}, nil
}

func (d *Dynamo) Capability() conversation.Capability { return conversation.Synchronous }

// chatPK returns the DynamoDB partition key for a conversation.
func chatPK(chatID string) string {
	return pkPrefix + chatID
}

func (d *Dynamo) key(chatID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: chatPK(chatID)},
		"SK": &types.AttributeValueMemberS{Value: skSnapshot},
	}
}

// ttlValue returns a Unix timestamp 30 days after now.
func (d *Dynamo) ttlValue() int64 {
	return d.now().Add(ttlDuration).Unix()
}

// Save writes or replaces the conversation snapshot.
func (d *Dynamo) Save(ctx context.Context, c *conversation.Conversation) error {
	if c == nil {
		return errors.New("repository: Save: conversation must not be nil")
	}
	item, err := snapshotItem(c.Record(), d.ttlValue())
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	if _, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

// Load reads a conversation snapshot or returns conversation.ErrNotFound.
func (d *Dynamo) Load(ctx context.Context, chatID string) (*conversation.Conversation, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.key(chatID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, conversation.ErrNotFound
	}
	rec, err := itemToRecord(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: Load decode: %w", err)
	}
	return conversation.Restore(rec)
}

// GetOrCreate loads chatID or writes a new empty snapshot for it. A
// concurrent creator wins the conditional write and its snapshot is returned.
func (d *Dynamo) GetOrCreate(ctx context.Context, chatID string, now time.Time) (*conversation.Conversation, error) {
	c, err := d.Load(ctx, chatID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, conversation.ErrNotFound) {
		return nil, err
	}

	c = conversation.New(chatID, now)
	item, err := snapshotItem(c.Record(), d.ttlValue())
	if err != nil {
		return nil, fmt.Errorf("repository: GetOrCreate: %w", err)
	}
	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return d.Load(ctx, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: GetOrCreate: %w", err)
	}
	return c, nil
}

func (d *Dynamo) Delete(ctx context.Context, chatID string) error {
	if _, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(chatID),
	}); err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

// ListAll scans every snapshot in the table, oldest conversation first.
func (d *Dynamo) ListAll(ctx context.Context) ([]*conversation.Conversation, error) {
	var out []*conversation.Conversation
	err := d.scan(ctx, "", func(item map[string]types.AttributeValue) error {
		rec, err := itemToRecord(item)
		if err != nil {
			return err
		}
		c, err := conversation.Restore(rec)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListAll: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out, nil
}

// ClearAll deletes every snapshot item.
func (d *Dynamo) ClearAll(ctx context.Context) error {
	err := d.scan(ctx, "PK", func(item map[string]types.AttributeValue) error {
		pk, err := strAttr(item, "PK")
		if err != nil {
			return err
		}
		return d.Delete(ctx, strings.TrimPrefix(pk, pkPrefix))
	})
	if err != nil {
		return fmt.Errorf("repository: ClearAll: %w", err)
	}
	return nil
}

// ClearHistory empties the stored history of chatID.
func (d *Dynamo) ClearHistory(ctx context.Context, chatID string) error {
	c, err := d.Load(ctx, chatID)
	if err != nil {
		return err
	}
	item, err := snapshotItem(clearedRecord(c.Record()), d.ttlValue())
	if err != nil {
		return fmt.Errorf("repository: ClearHistory: %w", err)
	}
	if _, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: ClearHistory: %w", err)
	}
	return nil
}

// scan pages through snapshot items, calling fn for each one.
func (d *Dynamo) scan(ctx context.Context, projection string, fn func(map[string]types.AttributeValue) error) error {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("SK = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sk": &types.AttributeValueMemberS{Value: skSnapshot},
		},
	}
	if projection != "" {
		in.ProjectionExpression = aws.String(projection)
	}
	for {
		out, err := d.api.Scan(ctx, in)
		if err != nil {
			return err
		}
		for _, item := range out.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func snapshotItem(rec domain.ConversationRecord, ttl int64) (map[string]types.AttributeValue, error) {
	msgs := rec.Messages
	if msgs == nil {
		msgs = []domain.MessageRecord{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: chatPK(rec.ChatID)},
		"SK":           &types.AttributeValueMemberS{Value: skSnapshot},
		"chatId":       &types.AttributeValueMemberS{Value: rec.ChatID},
		"createdAt":    &types.AttributeValueMemberS{Value: rec.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"lastUpdated":  &types.AttributeValueMemberS{Value: rec.LastUpdated.UTC().Format(time.RFC3339Nano)},
		"messageCount": &types.AttributeValueMemberN{Value: strconv.Itoa(rec.MessageCount)},
		"messages":     &types.AttributeValueMemberS{Value: string(raw)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}, nil
}

// itemToRecord converts a DynamoDB attribute map to a ConversationRecord.
func itemToRecord(item map[string]types.AttributeValue) (domain.ConversationRecord, error) {
	chatID, err := strAttr(item, "chatId")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	lastUpdated, err := timeAttr(item, "lastUpdated")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	count, err := intAttr(item, "messageCount")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	rawMsgs, err := strAttr(item, "messages")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	var msgs []domain.MessageRecord
	if err := json.Unmarshal([]byte(rawMsgs), &msgs); err != nil {
		return domain.ConversationRecord{}, fmt.Errorf("repository: attribute %q: %w", "messages", err)
	}
	return domain.ConversationRecord{
		ChatID:       chatID,
		CreatedAt:    createdAt,
		MessageCount: count,
		LastUpdated:  lastUpdated,
		Messages:     msgs,
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
