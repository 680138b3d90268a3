// Package lock provides named advisory locks backed by a DynamoDB lock table.
//
// A lock is one row keyed by the lock name. Acquisition is a conditional
// put that succeeds when the row is absent or its lease has expired;
// release is a conditional delete guarded by the owner token. Leases make
// release automatic when a holder dies without unlocking: the next
// acquirer simply steals the expired row.
//
// Locks are cooperative. They serialize the arbor tree mutations that a
// DynamoDB transaction alone cannot (read-then-write protocols spanning
// several requests); they protect nothing else.
package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Config holds configuration for the Manager.
type Config struct {
	// Table is the name of the lock table (pk only).
	// Default: "arbor_locks"
	Table string

	// LeaseDuration is how long an acquired lock survives a crashed
	// holder before it can be stolen. Must comfortably exceed the
	// longest critical section.
	// Default: 30s
	LeaseDuration time.Duration

	// AcquireTimeout bounds how long WithLock waits for a contended
	// lock before failing with ErrLockTimeout.
	// Default: 10s
	AcquireTimeout time.Duration

	// RetryInterval is the base delay between acquisition attempts.
	// Actual delays are jittered to avoid thundering-herd retries.
	// Default: 50ms
	RetryInterval time.Duration

	// Disabled bypasses locking entirely: WithLock runs the body
	// directly. Every correctness guarantee that depends on the lock
	// is forfeited. Intended for tests that demonstrate the degraded
	// mode.
	Disabled bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Table:          "arbor_locks",
		LeaseDuration:  30 * time.Second,
		AcquireTimeout: 10 * time.Second,
		RetryInterval:  50 * time.Millisecond,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "arbor_locks"
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 30 * time.Second
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 10 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 50 * time.Millisecond
	}
}

// Manager acquires and releases named advisory locks.
type Manager struct {
	client *dynamodb.Client
	config Config
}

// New creates a new Manager instance.
func New(client *dynamodb.Client, config Config) *Manager {
	config.validate()
	return &Manager{
		client: client,
		config: config,
	}
}

// Disabled returns a Manager that never locks. WithLock runs bodies
// directly.
func Disabled() *Manager {
	return &Manager{config: Config{Disabled: true}}
}

// Enabled reports whether the manager actually locks.
func (m *Manager) Enabled() bool {
	return m != nil && !m.config.Disabled
}

// WithLock acquires the named lock, runs body, and releases the lock on
// every exit path, including panics and context cancellation. A nil or
// disabled manager runs body without locking.
func (m *Manager) WithLock(ctx context.Context, key string, body func(context.Context) error) error {
	if !m.Enabled() {
		return body(ctx)
	}

	owner, err := m.acquire(ctx, key)
	if err != nil {
		return err
	}
	// Release must run even when ctx was canceled inside body.
	defer m.release(context.WithoutCancel(ctx), key, owner)

	return body(ctx)
}

// acquire takes the lock, retrying with jittered backoff until the
// acquire timeout or context deadline. Returns the owner token used to
// release.
func (m *Manager) acquire(ctx context.Context, key string) (string, error) {
	owner := uuid.NewString()

	lockCtx, cancel := context.WithTimeout(ctx, m.config.AcquireTimeout)
	defer cancel()

	for {
		now := time.Now()
		leaseUntil := now.Add(m.config.LeaseDuration).Unix()

		_, err := m.client.PutItem(lockCtx, &dynamodb.PutItemInput{
			TableName: aws.String(m.config.Table),
			Item: map[string]types.AttributeValue{
				"pk":          &types.AttributeValueMemberS{Value: key},
				"owner":       &types.AttributeValueMemberS{Value: owner},
				"lease_until": &types.AttributeValueMemberN{Value: strconv.FormatInt(leaseUntil, 10)},
			},
			ConditionExpression: aws.String("attribute_not_exists(pk) OR lease_until < :now"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			},
		})
		if err == nil {
			return owner, nil
		}

		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return "", err
		}

		// Contended; wait and retry until our deadline.
		timer := time.NewTimer(jitteredInterval(m.config.RetryInterval))
		select {
		case <-lockCtx.Done():
			timer.Stop()
			return "", acquireFailure(ctx, key)
		case <-timer.C:
		}
	}
}

// acquireFailure classifies why waiting for a lock ended. The caller
// giving up propagates as the context's own error; only exhausting
// AcquireTimeout is a retryable ErrLockTimeout.
func acquireFailure(parent context.Context, key string) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %q", ErrLockTimeout, key)
}

// release drops the lock if we still own it. A lease that expired and
// was stolen belongs to someone else and is left alone.
func (m *Manager) release(ctx context.Context, key, owner string) error {
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.config.Table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// jitteredInterval spreads retries across [base/2, base*3/2).
func jitteredInterval(base time.Duration) time.Duration {
	return base/2 + time.Duration(rand.Int63n(int64(base)))
}
