package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"drive/internal/models"
)

// DynamoDBAPI is the part of *dynamodb.Client the store uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// sessionItem is the table layout. expires_at doubles as the table's TTL
// attribute; DynamoDB may keep expired items around for a while, so reads
// check it too.
type sessionItem struct {
	SessionID string `dynamodbav:"session_id"`
	UserID    string `dynamodbav:"user_id"`
	Name      string `dynamodbav:"name"`
	Email     string `dynamodbav:"email"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

type DynamoStore struct {
	client    DynamoDBAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoStore(client DynamoDBAPI, tableName string, ttl time.Duration) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *DynamoStore) Create(ctx context.Context, user models.SessionUser) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}

	item, err := attributevalue.MarshalMap(sessionItem{
		SessionID: id,
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		ExpiresAt: s.now().Add(s.ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(session_id)"),
	})
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	return id, nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*models.SessionUser, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	if item.ExpiresAt <= s.now().Unix() {
		return nil, ErrNotFound
	}

	return &models.SessionUser{ID: item.UserID, Name: item.Name, Email: item.Email}, nil
}

// Refresh only touches live sessions; a missing or expired one is ErrNotFound.
func (s *DynamoStore) Refresh(ctx context.Context, id string, user models.SessionUser) error {
	now := s.now()
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(id),
		UpdateExpression:    aws.String("SET #name = :name, email = :email, expires_at = :expires_at"),
		ConditionExpression: aws.String("attribute_exists(session_id) AND expires_at > :now"),
		ExpressionAttributeNames: map[string]string{
			"#name": "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":       &types.AttributeValueMemberS{Value: user.Name},
			":email":      &types.AttributeValueMemberS{Value: user.Email},
			":expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttl).Unix(), 10)},
			":now":        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return ErrNotFound
		}
		return fmt.Errorf("refreshing session: %w", err)
	}
	return nil
}

func (s *DynamoStore) Destroy(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(id),
	})
	if err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}

func (s *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"session_id": &types.AttributeValueMemberS{Value: id},
	}
}
