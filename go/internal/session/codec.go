package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedDocument indicates a session document that cannot be decoded
// into a SessionState. This is the one store-boundary failure that is
// surfaced upward as a hard error rather than retried or swallowed.
var ErrMalformedDocument = errors.New("malformed session document")

// Decode translates the wire representation of a session document (untyped
// nested maps, as produced by any store backend) into a typed SessionState.
// Missing optional fields decode to their zero values; structurally invalid
// fields fail with ErrMalformedDocument.
func Decode(doc map[string]any) (SessionState, error) {
	var s SessionState
	if doc == nil {
		return s, fmt.Errorf("%w: nil document", ErrMalformedDocument)
	}

	var err error
	if s.RoomID, err = optString(doc, FieldRoomID); err != nil {
		return s, err
	}
	gt, err := optString(doc, FieldGameType)
	if err != nil {
		return s, err
	}
	s.GameType = GameType(gt)
	if s.HostID, err = optString(doc, FieldHostID); err != nil {
		return s, err
	}
	ph, err := optString(doc, FieldPhase)
	if err != nil {
		return s, err
	}
	s.Phase = Phase(ph)
	if s.PhaseStartedAt, err = optTime(doc, FieldPhaseStartedAt); err != nil {
		return s, err
	}
	if s.RoundIndex, err = optInt(doc, FieldRoundIndex); err != nil {
		return s, err
	}
	if s.RoundIndex < 0 {
		return s, fmt.Errorf("%w: negative roundIndex %d", ErrMalformedDocument, s.RoundIndex)
	}
	if s.TurnID, err = optString(doc, FieldTurnID); err != nil {
		return s, err
	}
	if s.WinnerID, err = optString(doc, FieldWinnerID); err != nil {
		return s, err
	}

	if raw, ok := doc[FieldPlayers]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return s, fmt.Errorf("%w: players is %T, want list", ErrMalformedDocument, raw)
		}
		s.Players = make([]Player, 0, len(list))
		for i, item := range list {
			p, err := decodePlayer(item)
			if err != nil {
				return s, fmt.Errorf("players[%d]: %w", i, err)
			}
			s.Players = append(s.Players, p)
		}
	}

	if raw, ok := doc[FieldPendingIntents]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return s, fmt.Errorf("%w: pendingIntents is %T, want map", ErrMalformedDocument, raw)
		}
		s.PendingIntents = make(map[string]Intent, len(m))
		for uid, item := range m {
			in, err := decodeIntent(item)
			if err != nil {
				return s, fmt.Errorf("pendingIntents[%s]: %w", uid, err)
			}
			if in.PlayerID == "" {
				in.PlayerID = uid
			}
			s.PendingIntents[uid] = in
		}
	}

	if s.Readiness, err = optBoolMap(doc, FieldReadiness); err != nil {
		return s, err
	}
	if s.RematchVotes, err = optBoolMap(doc, FieldRematchVotes); err != nil {
		return s, err
	}

	if raw, ok := doc[FieldRoundResult]; ok && raw != nil {
		rr, err := decodeRoundResult(raw)
		if err != nil {
			return s, err
		}
		s.RoundResult = &rr
	}

	if raw, ok := doc[FieldGameData]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return s, fmt.Errorf("%w: gameData is %T, want map", ErrMalformedDocument, raw)
		}
		s.GameData = m
	}

	// Terminal invariant: winner and FINISHED come and go together.
	if (s.WinnerID != "") != (s.Phase == PhaseFinished) && s.Phase != "" {
		return s, fmt.Errorf("%w: winnerId=%q with phase=%q", ErrMalformedDocument, s.WinnerID, s.Phase)
	}

	return s, nil
}

// Encode produces the wire representation of a full SessionState. Used when
// seeding a fresh document; steady-state mutation goes through Fields.
func Encode(s SessionState) map[string]any {
	doc := map[string]any{
		FieldRoomID:     s.RoomID,
		FieldGameType:   string(s.GameType),
		FieldPhase:      string(s.Phase),
		FieldRoundIndex: s.RoundIndex,
	}
	if s.HostID != "" {
		doc[FieldHostID] = s.HostID
	}
	if !s.PhaseStartedAt.IsZero() {
		doc[FieldPhaseStartedAt] = s.PhaseStartedAt.UTC().Format(time.RFC3339Nano)
	}
	if s.TurnID != "" {
		doc[FieldTurnID] = s.TurnID
	}
	if s.WinnerID != "" {
		doc[FieldWinnerID] = s.WinnerID
	}
	players := make([]any, len(s.Players))
	for i, p := range s.Players {
		players[i] = encodePlayer(p)
	}
	doc[FieldPlayers] = players
	if len(s.PendingIntents) > 0 {
		m := make(map[string]any, len(s.PendingIntents))
		for uid, in := range s.PendingIntents {
			m[uid] = EncodeIntent(in)
		}
		doc[FieldPendingIntents] = m
	}
	if len(s.Readiness) > 0 {
		doc[FieldReadiness] = boolMapToAny(s.Readiness)
	}
	if len(s.RematchVotes) > 0 {
		doc[FieldRematchVotes] = boolMapToAny(s.RematchVotes)
	}
	if s.RoundResult != nil {
		doc[FieldRoundResult] = EncodeRoundResult(*s.RoundResult)
	}
	if len(s.GameData) > 0 {
		doc[FieldGameData] = s.GameData
	}
	return doc
}

// EncodeIntent produces the wire form of an intent, suitable as a Fields
// value under "pendingIntents.<uid>". SubmittedAt left zero encodes as the
// ServerTimestamp sentinel so the store stamps it.
func EncodeIntent(in Intent) map[string]any {
	m := map[string]any{
		"playerId": in.PlayerID,
	}
	if in.SubmittedAt.IsZero() {
		m["submittedAt"] = ServerTimestamp
	} else {
		m["submittedAt"] = in.SubmittedAt.UTC().Format(time.RFC3339Nano)
	}
	if in.Correct != nil {
		m["correct"] = *in.Correct
	}
	if len(in.Data) > 0 {
		m["data"] = in.Data
	}
	return m
}

// EncodeRoundResult produces the wire form of a round result.
func EncodeRoundResult(rr RoundResult) map[string]any {
	m := map[string]any{
		"randomized": rr.Randomized,
	}
	if rr.WinnerID != "" {
		m["winnerId"] = rr.WinnerID
	}
	if len(rr.Scores) > 0 {
		scores := make(map[string]any, len(rr.Scores))
		for uid, sc := range rr.Scores {
			entry := map[string]any{
				"points":   sc.Points,
				"timedOut": sc.TimedOut,
			}
			if len(sc.Breakdown) > 0 {
				bd := make(map[string]any, len(sc.Breakdown))
				for k, v := range sc.Breakdown {
					bd[k] = v
				}
				entry["breakdown"] = bd
			}
			scores[uid] = entry
		}
		m["scores"] = scores
	}
	if len(rr.Data) > 0 {
		m["data"] = rr.Data
	}
	return m
}

// ApplyFields merges a partial update into a document in place, resolving
// ServerTimestamp and DeleteField sentinels. Dotted keys descend into
// nested maps, creating them as needed. Every store backend applies writes
// through this one merge so their semantics cannot drift apart.
func ApplyFields(doc map[string]any, fields Fields, serverTime time.Time) {
	for path, value := range fields {
		parts := strings.Split(path, ".")
		target := doc
		for _, part := range parts[:len(parts)-1] {
			next, ok := target[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				target[part] = next
			}
			target = next
		}
		leaf := parts[len(parts)-1]
		if IsDeleteField(value) {
			delete(target, leaf)
			continue
		}
		target[leaf] = resolveSentinels(value, serverTime)
	}
}

func resolveSentinels(v any, serverTime time.Time) any {
	if IsServerTimestamp(v) {
		return serverTime.UTC().Format(time.RFC3339Nano)
	}
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, item := range m {
			if IsDeleteField(item) {
				continue
			}
			out[k] = resolveSentinels(item, serverTime)
		}
		return out
	}
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = resolveSentinels(item, serverTime)
		}
		return out
	}
	return v
}

func decodePlayer(raw any) (Player, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Player{}, fmt.Errorf("%w: player is %T, want map", ErrMalformedDocument, raw)
	}
	var p Player
	var err error
	if p.UID, err = optString(m, "uid"); err != nil {
		return p, err
	}
	if p.UID == "" {
		return p, fmt.Errorf("%w: player without uid", ErrMalformedDocument)
	}
	if p.DisplayName, err = optString(m, "displayName"); err != nil {
		return p, err
	}
	if p.Symbol, err = optString(m, "symbol"); err != nil {
		return p, err
	}
	if p.Team, err = optString(m, "team"); err != nil {
		return p, err
	}
	if p.TotalScore, err = optInt(m, "totalScore"); err != nil {
		return p, err
	}
	return p, nil
}

func encodePlayer(p Player) map[string]any {
	m := map[string]any{
		"uid":         p.UID,
		"displayName": p.DisplayName,
		"totalScore":  p.TotalScore,
	}
	if p.Symbol != "" {
		m["symbol"] = p.Symbol
	}
	if p.Team != "" {
		m["team"] = p.Team
	}
	return m
}

func decodeIntent(raw any) (Intent, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Intent{}, fmt.Errorf("%w: intent is %T, want map", ErrMalformedDocument, raw)
	}
	var in Intent
	var err error
	if in.PlayerID, err = optString(m, "playerId"); err != nil {
		return in, err
	}
	if in.SubmittedAt, err = optTime(m, "submittedAt"); err != nil {
		return in, err
	}
	if raw, ok := m["correct"]; ok && raw != nil {
		b, ok := raw.(bool)
		if !ok {
			return in, fmt.Errorf("%w: correct is %T, want bool", ErrMalformedDocument, raw)
		}
		in.Correct = &b
	}
	if raw, ok := m["data"]; ok && raw != nil {
		data, ok := raw.(map[string]any)
		if !ok {
			return in, fmt.Errorf("%w: intent data is %T, want map", ErrMalformedDocument, raw)
		}
		in.Data = data
	}
	return in, nil
}

func decodeRoundResult(raw any) (RoundResult, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return RoundResult{}, fmt.Errorf("%w: roundResult is %T, want map", ErrMalformedDocument, raw)
	}
	var rr RoundResult
	var err error
	if rr.WinnerID, err = optString(m, "winnerId"); err != nil {
		return rr, err
	}
	if raw, ok := m["randomized"]; ok && raw != nil {
		b, ok := raw.(bool)
		if !ok {
			return rr, fmt.Errorf("%w: randomized is %T, want bool", ErrMalformedDocument, raw)
		}
		rr.Randomized = b
	}
	if raw, ok := m["scores"]; ok && raw != nil {
		sm, ok := raw.(map[string]any)
		if !ok {
			return rr, fmt.Errorf("%w: scores is %T, want map", ErrMalformedDocument, raw)
		}
		rr.Scores = make(map[string]RoundScore, len(sm))
		for uid, item := range sm {
			em, ok := item.(map[string]any)
			if !ok {
				return rr, fmt.Errorf("%w: score entry is %T, want map", ErrMalformedDocument, item)
			}
			var sc RoundScore
			if sc.Points, err = optInt(em, "points"); err != nil {
				return rr, err
			}
			if b, ok := em["timedOut"].(bool); ok {
				sc.TimedOut = b
			}
			if bd, ok := em["breakdown"].(map[string]any); ok {
				sc.Breakdown = make(map[string]int, len(bd))
				for k, v := range bd {
					n, err := toInt(v)
					if err != nil {
						return rr, fmt.Errorf("%w: breakdown[%s]: %v", ErrMalformedDocument, k, err)
					}
					sc.Breakdown[k] = n
				}
			}
			rr.Scores[uid] = sc
		}
	}
	if raw, ok := m["data"]; ok && raw != nil {
		data, ok := raw.(map[string]any)
		if !ok {
			return rr, fmt.Errorf("%w: result data is %T, want map", ErrMalformedDocument, raw)
		}
		rr.Data = data
	}
	return rr, nil
}

func optString(m map[string]any, key string) (string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrMalformedDocument, key, raw)
	}
	return s, nil
}

func optInt(m map[string]any, key string) (int, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, nil
	}
	n, err := toInt(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformedDocument, key, err)
	}
	return n, nil
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("is %T, want number", raw)
	}
}

func optTime(m map[string]any, key string) (time.Time, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return time.Time{}, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: %v", ErrMalformedDocument, key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s is %T, want timestamp", ErrMalformedDocument, key, raw)
	}
}

func optBoolMap(m map[string]any, key string) (map[string]bool, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	src, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want map", ErrMalformedDocument, key, raw)
	}
	out := make(map[string]bool, len(src))
	for k, v := range src {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%s] is %T, want bool", ErrMalformedDocument, key, k, v)
		}
		out[k] = b
	}
	return out, nil
}

func boolMapToAny(m map[string]bool) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
