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

	"media-relay/internal/domain"
)

const (
	pkPrefixSender = "SENDER#"
	skState        = "STATE"
	defaultTTL     = 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps one conversation item per sender in a DynamoDB table.
// Items expire through the table's TTL attribute so abandoned conversations
// do not linger.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoStore creates a DynamoDB-backed ConversationStore.
func NewDynamoStore(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &DynamoStore{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

// senderPK returns the DynamoDB partition key for a sender.
func senderPK(sender string) string {
	return pkPrefixSender + sender
}

func (s *DynamoStore) key(sender string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: senderPK(sender)},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

// Get returns the sender's conversation. Items past their TTL are treated as
// absent because DynamoDB deletes expired items lazily.
func (s *DynamoStore) Get(ctx context.Context, sender string) (domain.ConversationState, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(sender),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationState{}, false, nil
	}

	if ttl, err := intAttr(out.Item, "ttl"); err == nil && int64(ttl) <= s.now().Unix() {
		return domain.ConversationState{}, false, nil
	}

	st, err := itemToState(sender, out.Item)
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: Get decode: %w", err)
	}
	return st, true, nil
}

// Put writes or replaces the sender's conversation.
func (s *DynamoStore) Put(ctx context.Context, state domain.ConversationState) error {
	if state.Sender == "" {
		return errors.New("repository: Put: sender is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      s.stateItem(state),
	})
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

// Delete removes the sender's conversation. Deleting a missing item is not an error.
func (s *DynamoStore) Delete(ctx context.Context, sender string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(sender),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func (s *DynamoStore) stateItem(st domain.ConversationState) map[string]types.AttributeValue {
	now := s.now().UTC()
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: senderPK(st.Sender)},
		"SK":             &types.AttributeValueMemberS{Value: skState},
		"sender":         &types.AttributeValueMemberS{Value: st.Sender},
		"submittedUrl":   &types.AttributeValueMemberS{Value: st.SubmittedURL},
		"awaitingFormat": &types.AttributeValueMemberBOOL{Value: st.AwaitingFormat},
		"selectedFormat": &types.AttributeValueMemberS{Value: string(st.SelectedFormat)},
		"updatedAt":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttl).Unix(), 10)},
	}
}

// itemToState converts a DynamoDB attribute map to a ConversationState.
func itemToState(sender string, item map[string]types.AttributeValue) (domain.ConversationState, error) {
	url, err := strAttr(item, "submittedUrl")
	if err != nil {
		return domain.ConversationState{}, err
	}
	awaiting, err := boolAttr(item, "awaitingFormat")
	if err != nil {
		return domain.ConversationState{}, err
	}
	format, _ := strAttr(item, "selectedFormat") // allow empty

	return domain.ConversationState{
		Sender:         sender,
		SubmittedURL:   url,
		AwaitingFormat: awaiting,
		SelectedFormat: domain.Format(format),
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

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
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
