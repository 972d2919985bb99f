package audit

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/subramanya1997/agentic-trust-platform/internal/identity"
)

// The provider's audit feed is not uniformly shaped: depending on the event
// source, actor/target/context fields arrive either flat ("id": ...) or
// nested under an "attributes" object, and occasionally as bare maps with
// neither. The helpers here tolerate all three shapes and extract what the
// local schema needs; unknown fields are preserved verbatim in Targets.

type actorInfo struct {
	ID   string
	Type string
	Name string
}

// flatten decodes raw JSON into a map and, when the payload nests its fields
// under "attributes", lifts them to the top level. Top-level keys win over
// nested ones.
func flatten(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	attrs, ok := m["attributes"].(map[string]any)
	if !ok {
		return m
	}
	out := make(map[string]any, len(m)+len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	for k, v := range m {
		if k == "attributes" {
			continue
		}
		out[k] = v
	}
	return out
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func normalizeActor(raw json.RawMessage) actorInfo {
	m := flatten(raw)
	if m == nil {
		return actorInfo{}
	}
	return actorInfo{
		ID:   stringField(m, "id"),
		Type: stringField(m, "type"),
		Name: stringField(m, "name", "email"),
	}
}

// normalizeContext extracts the request context the feed attaches to an
// event. The ip address may appear as "location" or "ip_address" depending
// on the event's vintage.
func normalizeContext(raw json.RawMessage) (ipAddress, userAgent string) {
	m := flatten(raw)
	if m == nil {
		return "", ""
	}
	return stringField(m, "location", "ip_address"), stringField(m, "user_agent")
}

// normalizeTargets flattens each target, keeping undecodable ones out rather
// than failing the whole event. Returns the flattened list plus its JSON
// encoding for storage.
func normalizeTargets(raw []json.RawMessage) ([]map[string]any, datatypes.JSON) {
	if len(raw) == 0 {
		return nil, nil
	}
	targets := make([]map[string]any, 0, len(raw))
	for _, t := range raw {
		if m := flatten(t); m != nil {
			targets = append(targets, m)
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(targets)
	if err != nil {
		return nil, nil
	}
	return targets, datatypes.JSON(data)
}

// parseOccurredAt accepts the timestamp formats the feed has been observed
// to emit. An unparseable timestamp falls back to ingestion time so the
// event is never silently future- or zero-dated.
func parseOccurredAt(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// recordFromRemote converts one feed entry into a persistable record. The
// provider event id doubles as the dedup key.
func recordFromRemote(orgID string, ev identity.RemoteAuditEvent) EventRecord {
	actor := normalizeActor(ev.Actor)
	ip, ua := normalizeContext(ev.Context)
	targets, targetsJSON := normalizeTargets(ev.Targets)

	metadata := datatypes.JSONMap{}
	for k, v := range ev.Metadata {
		metadata[k] = v
	}
	if ev.ID != "" {
		metadata["remote_event_id"] = ev.ID
	}

	record := EventRecord{
		OrganizationID: orgID,
		DedupKey:       ev.ID,
		Action:         ev.Action,
		Category:       CategoryFor(ev.Action),
		Source:         SourceProvider,
		ActorID:        actor.ID,
		ActorType:      actor.Type,
		ActorName:      actor.Name,
		Targets:        targetsJSON,
		Metadata:       metadata,
		IPAddress:      ip,
		UserAgent:      ua,
		OccurredAt:     parseOccurredAt(ev.OccurredAt),
	}
	// first target doubles as the record's primary target
	if len(targets) > 0 {
		record.TargetType = stringField(targets[0], "type")
		record.TargetID = stringField(targets[0], "id")
		record.TargetName = stringField(targets[0], "name")
	}
	return record
}
