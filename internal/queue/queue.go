package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey   = "repost:tasks"
	delayedKey = "repost:tasks:delayed"

	popTimeout   = time.Second
	promoteEvery = 250 * time.Millisecond
)

// Task is one orchestration task descriptor shared through Redis. Exactly
// one of PostID / MediaGroupID is set depending on the kind.
type Task struct {
	Kind         string `json:"kind"`
	PostID       string `json:"post_id,omitempty"`
	MediaGroupID string `json:"media_group_id,omitempty"`
}

// Task kinds.
const (
	TaskRepostSingle  = "repost_single"
	TaskFinalizeAlbum = "finalize_album"
)

// Queue is a Redis-backed task queue: a list for ready tasks and a sorted
// set, scored by due time, for delayed ones. Multiple worker processes may
// consume the same queue.
type Queue struct {
	client *redis.Client
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue pushes the task for immediate execution.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.client.LPush(ctx, readyKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// ScheduleAfter enqueues the task to become ready once delay elapses.
func (q *Queue) ScheduleAfter(ctx context.Context, delay time.Duration, task Task) error {
	if delay <= 0 {
		return q.Enqueue(ctx, task)
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	member := redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: payload,
	}
	if err := q.client.ZAdd(ctx, delayedKey, member).Err(); err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}
	return nil
}

// promoteDue moves tasks whose due time has passed from the delayed set to
// the ready list. ZRem decides the winner when several workers race on the
// same member.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another worker promoted it
		}
		if err := q.client.LPush(ctx, readyKey, member).Err(); err != nil {
			return err
		}
	}
	return nil
}

// pop blocks for up to popTimeout waiting for a ready task. It returns
// (nil, nil) when the wait times out.
func (q *Queue) pop(ctx context.Context) (*Task, error) {
	result, err := q.client.BRPop(ctx, popTimeout, readyKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [key, value].
	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}
