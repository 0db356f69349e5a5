package graphapi

import (
	"encoding/json"
	"errors"
)

// Link is a connection between an output slot and an input slot. Editor
// exports serialize links as 6-element tuples, newer exports as objects; both
// decode here and re-encode in the format they arrived in.
type Link struct {
	ID         int
	OriginID   int
	OriginSlot int
	TargetID   int
	TargetSlot int
	Type       string

	isObjectFormat bool
}

func (l *Link) UnmarshalJSON(b []byte) error {
	// Tuple format first: [id, origin, origin_slot, target, target_slot, type]
	var tmp []any
	if err := json.Unmarshal(b, &tmp); err == nil {
		if len(tmp) < 5 {
			return errors.New("link tuple has too few fields")
		}

		var ok bool
		if l.ID, ok = asInt(tmp[0]); !ok {
			return errors.New("link tuple id is not a number")
		}
		l.OriginID, _ = asInt(tmp[1])
		l.OriginSlot, _ = asInt(tmp[2])
		l.TargetID, _ = asInt(tmp[3])
		l.TargetSlot, _ = asInt(tmp[4])
		if len(tmp) > 5 {
			l.Type, _ = tmp[5].(string)
		}
		return nil
	}

	var obj struct {
		ID         int    `json:"id"`
		OriginID   int    `json:"origin_id"`
		OriginSlot int    `json:"origin_slot"`
		TargetID   int    `json:"target_id"`
		TargetSlot int    `json:"target_slot"`
		Type       string `json:"type"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}

	l.ID = obj.ID
	l.OriginID = obj.OriginID
	l.OriginSlot = obj.OriginSlot
	l.TargetID = obj.TargetID
	l.TargetSlot = obj.TargetSlot
	l.Type = obj.Type
	l.isObjectFormat = true
	return nil
}

func (l *Link) MarshalJSON() ([]byte, error) {
	if l.isObjectFormat {
		obj := struct {
			ID         int    `json:"id"`
			OriginID   int    `json:"origin_id"`
			OriginSlot int    `json:"origin_slot"`
			TargetID   int    `json:"target_id"`
			TargetSlot int    `json:"target_slot"`
			Type       string `json:"type"`
		}{l.ID, l.OriginID, l.OriginSlot, l.TargetID, l.TargetSlot, l.Type}
		return json.Marshal(obj)
	}

	tmp := []any{l.ID, l.OriginID, l.OriginSlot, l.TargetID, l.TargetSlot, l.Type}
	return json.Marshal(tmp)
}

func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
