package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/molpadia/molpastory/internal/domain/entity"
	"github.com/molpadia/molpastory/internal/domain/repository"
	"go.uber.org/zap"
)

var _ repository.SagaRunRepository = (*SagaRunRepository)(nil)

type SagaRunRepository struct {
	db        dynamodbiface.DynamoDBAPI
	tableName string
	logger    *zap.Logger
}

func NewSagaRunRepository(sess *session.Session, tableName string, logger *zap.Logger) *SagaRunRepository {
	return &SagaRunRepository{dynamodb.New(sess), tableName, logger.Named("SagaRunRepository")}
}

// Claim the run ID with a conditional write. When the ID is taken the stored
// run is returned instead.
func (r *SagaRunRepository) Reserve(ctx context.Context, run *entity.SagaRun) (*entity.SagaRun, bool, error) {
	av, err := dynamodbattribute.MarshalMap(run)
	if err != nil {
		return nil, false, err
	}
	_, err = r.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		Item:                av,
		TableName:           aws.String(r.tableName),
		ConditionExpression: aws.String("attribute_not_exists(Id)"),
	})
	if err == nil {
		return run, true, nil
	}
	var aerr awserr.Error
	if !errors.As(err, &aerr) || aerr.Code() != dynamodb.ErrCodeConditionalCheckFailedException {
		r.logger.Error("Failed to reserve saga run", zap.String("runID", run.Id), zap.Error(err))
		return nil, false, fmt.Errorf("failed to reserve saga run: %w", err)
	}
	existing, err := r.getById(ctx, run.Id)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Released between the conditional put and the read.
		return nil, false, fmt.Errorf("saga run %q vanished during reservation", run.Id)
	}
	return existing, false, nil
}

// Overwrite the stored run only if it still carries the token of prev.
func (r *SagaRunRepository) TakeOver(ctx context.Context, run, prev *entity.SagaRun) (bool, error) {
	av, err := dynamodbattribute.MarshalMap(run)
	if err != nil {
		return false, err
	}
	_, err = r.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		Item:                     av,
		TableName:                aws.String(r.tableName),
		ConditionExpression:      aws.String("#token = :token"),
		ExpressionAttributeNames: map[string]*string{"#token": aws.String("Token")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":token": {S: aws.String(prev.Token)},
		},
	})
	if err == nil {
		r.logger.Info("Saga run taken over", zap.String("runID", run.Id), zap.String("previousStatus", prev.Status))
		return true, nil
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
		return false, nil
	}
	r.logger.Error("Failed to take over saga run", zap.String("runID", run.Id), zap.Error(err))
	return false, fmt.Errorf("failed to take over saga run: %w", err)
}

// Save an entity to the persistence.
func (r *SagaRunRepository) Save(ctx context.Context, run *entity.SagaRun) error {
	av, err := dynamodbattribute.MarshalMap(run)
	if err != nil {
		return err
	}
	_, err = r.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		Item:      av,
		TableName: aws.String(r.tableName),
	})
	if err != nil {
		r.logger.Error("Failed to save saga run", zap.String("runID", run.Id), zap.String("status", run.Status), zap.Error(err))
		return fmt.Errorf("failed to save saga run: %w", err)
	}
	return nil
}

// Delete the run by its ID.
func (r *SagaRunRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		Key:       map[string]*dynamodb.AttributeValue{"Id": {S: aws.String(id)}},
		TableName: aws.String(r.tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to delete saga run: %w", err)
	}
	return nil
}

// Get the run by its ID, nil when it does not exist.
func (r *SagaRunRepository) getById(ctx context.Context, id string) (*entity.SagaRun, error) {
	out, err := r.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		Key:            map[string]*dynamodb.AttributeValue{"Id": {S: aws.String(id)}},
		TableName:      aws.String(r.tableName),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get saga run: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var run *entity.SagaRun
	err = dynamodbattribute.UnmarshalMap(out.Item, &run)
	return run, err
}
