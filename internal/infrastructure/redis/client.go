package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type rosterEntry struct {
	PrincipalID  string    `json:"principal_id"`
	Role         string    `json:"role"`
	ConnectionID string    `json:"connection_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// AddToRoster records a connected principal under its role roster.
func (r *Client) AddToRoster(ctx context.Context, role, principalID, connectionID string) error {
	key := fmt.Sprintf("roster:%s", role)
	entry := rosterEntry{
		PrincipalID:  principalID,
		Role:         role,
		ConnectionID: connectionID,
		ConnectedAt:  time.Now().UTC(),
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return r.client.HSet(ctx, key, principalID, entryJSON).Err()
}

// RemoveFromRoster drops a principal from its role roster on
// disconnect.
func (r *Client) RemoveFromRoster(ctx context.Context, role, principalID string) error {
	key := fmt.Sprintf("roster:%s", role)
	return r.client.HDel(ctx, key, principalID).Err()
}

// GetRoster returns the roster entries for a role, for non-WS
// consumers that only need a snapshot.
func (r *Client) GetRoster(ctx context.Context, role string) (map[string]interface{}, error) {
	key := fmt.Sprintf("roster:%s", role)
	entries, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[string]interface{})
	for principalID, entryJSON := range entries {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
			continue
		}
		result[principalID] = entry
	}

	return map[string]interface{}{
		"role":      role,
		"connected": len(result) > 0,
		"total":     len(result),
		"entries":   result,
	}, nil
}

// SetTyping records a typing signal with a TTL so it expires on its own
// with no explicit stop event. Implements hub.TypingMirror.
func (r *Client) SetTyping(ctx context.Context, conversationKey, subjectID string, ttl time.Duration) error {
	key := fmt.Sprintf("typing:%s:%s", conversationKey, subjectID)
	return r.client.Set(ctx, key, "1", ttl).Err()
}

// GetTypingSubjects lists principals currently typing in a
// conversation. Expired keys are already gone courtesy of the TTL.
func (r *Client) GetTypingSubjects(ctx context.Context, conversationKey string) ([]string, error) {
	pattern := fmt.Sprintf("typing:%s:*", conversationKey)
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("typing:%s:", conversationKey)
	var subjects []string
	for _, key := range keys {
		if len(key) > len(prefix) {
			subjects = append(subjects, key[len(prefix):])
		}
	}
	return subjects, nil
}

func (r *Client) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Client) Close() error {
	return r.client.Close()
}
