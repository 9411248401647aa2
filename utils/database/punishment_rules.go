package database

import (
	"context"

	"pingguard/model"
)

const ruleColumns = `id, priority_index, active, type, target, target_key, lenient, length`

// CreateRule inserts a rule, or re-activates and overwrites the rule that
// already occupies the same (priority_index, target, target_key, lenient)
// slot. It returns the row id.
func (s *Store) CreateRule(ctx context.Context, rule model.PunishmentRule) (int64, error) {
	query := s.rebind(`INSERT INTO punishment_rules (priority_index, active, type, target, target_key, lenient, length)
		VALUES (?, TRUE, ?, ?, ?, ?, ?)
		ON CONFLICT (priority_index, target, target_key, lenient)
		DO UPDATE SET active = TRUE, type = excluded.type, length = excluded.length
		RETURNING id`)

	var id int64
	err := s.db.QueryRowxContext(ctx, query,
		rule.PriorityIndex, string(rule.Type), string(rule.Target), rule.TargetKey, rule.Lenient, rule.Length,
	).Scan(&id)
	if err != nil {
		return 0, wrap(KindInsert, tablePunishmentRules, err)
	}
	return id, nil
}

// RemoveRule soft-deletes the active rule in the given slot. It reports
// whether a rule was removed.
func (s *Store) RemoveRule(ctx context.Context, priorityIndex int, target model.TargetType, targetKey string, lenient bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE punishment_rules SET active = FALSE
		WHERE priority_index = ? AND target = ? AND target_key = ? AND lenient = ? AND active = TRUE`),
		priorityIndex, string(target), targetKey, lenient)
	if err != nil {
		return false, wrap(KindDelete, tablePunishmentRules, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap(KindDelete, tablePunishmentRules, err)
	}
	return n > 0, nil
}

// ListActiveRules returns every active rule ordered by target and priority.
func (s *Store) ListActiveRules(ctx context.Context) ([]model.PunishmentRule, error) {
	var rules []model.PunishmentRule
	err := s.db.SelectContext(ctx, &rules, `SELECT `+ruleColumns+` FROM punishment_rules
		WHERE active = TRUE
		ORDER BY target, target_key, lenient, priority_index`)
	if err != nil {
		return nil, wrap(KindSelect, tablePunishmentRules, err)
	}
	return rules, nil
}
