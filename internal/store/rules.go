// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"database/sql"
)

// Rule is one locally managed allow/block rule.
type Rule struct {
	ID         int64  `json:"id"`
	RuleType   string `json:"rule_type"` // "blacklist" or "whitelist"
	Scope      string `json:"scope"`     // "video" or "channel"
	Value      string `json:"value"`
	Label      string `json:"label"`
	URL        string `json:"url"`
	SourceList string `json:"source_list"`
	CreatedAt  string `json:"created_at"`
}

// RuleMatch is the result of a rule lookup.
type RuleMatch struct {
	RuleType   string `json:"rule_type"`
	Scope      string `json:"scope"`
	Value      string `json:"value"`
	SourceList string `json:"source_list"`
}

// AddRule inserts a rule row.
func (s *Store) AddRule(ctx context.Context, r Rule) error {
	if r.SourceList == "" {
		r.SourceList = "manual"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules(rule_type, scope, value, label, url, source_list, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		r.RuleType, r.Scope, r.Value, r.Label, r.URL, r.SourceList, utcNowISO())
	return err
}

// DeleteRule removes a rule row.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	return err
}

const ruleColumns = `id, COALESCE(rule_type, ''), COALESCE(scope, ''), COALESCE(value, ''),
	COALESCE(label, ''), COALESCE(url, ''), COALESCE(source_list, 'manual'), COALESCE(created_at, '')`

// GetRule returns a rule by id, or nil when absent.
func (s *Store) GetRule(ctx context.Context, id int64) (*Rule, error) {
	var r Rule
	err := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules WHERE id = ?", id).
		Scan(&r.ID, &r.RuleType, &r.Scope, &r.Value, &r.Label, &r.URL, &r.SourceList, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules returns the newest rules, optionally filtered by type.
func (s *Store) ListRules(ctx context.Context, ruleType string, limit int) ([]Rule, error) {
	if limit <= 0 {
		limit = 200
	}
	var (
		rows *sql.Rows
		err  error
	)
	if ruleType == "whitelist" || ruleType == "blacklist" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+ruleColumns+" FROM rules WHERE rule_type = ? ORDER BY id DESC LIMIT ?",
			ruleType, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+ruleColumns+" FROM rules ORDER BY id DESC LIMIT ?", limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.RuleType, &r.Scope, &r.Value, &r.Label, &r.URL, &r.SourceList, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindRuleMatch looks up the newest matching rule, checking the video id
// before the channel id. ruleType narrows the search when set to
// "whitelist" or "blacklist".
func (s *Store) FindRuleMatch(ctx context.Context, videoID, channelID, ruleType string) (*RuleMatch, error) {
	query := func(scope, value string) (*RuleMatch, error) {
		var (
			row *sql.Row
			q   = "SELECT rule_type, scope, value, COALESCE(source_list, 'manual') FROM rules WHERE scope = ? AND value = ?"
		)
		if ruleType == "whitelist" || ruleType == "blacklist" {
			row = s.db.QueryRowContext(ctx, q+" AND rule_type = ? ORDER BY id DESC LIMIT 1", scope, value, ruleType)
		} else {
			row = s.db.QueryRowContext(ctx, q+" ORDER BY id DESC LIMIT 1", scope, value)
		}
		var m RuleMatch
		err := row.Scan(&m.RuleType, &m.Scope, &m.Value, &m.SourceList)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &m, nil
	}

	if videoID != "" {
		m, err := query("video", videoID)
		if err != nil || m != nil {
			return m, err
		}
	}
	if channelID != "" {
		return query("channel", channelID)
	}
	return nil, nil
}
