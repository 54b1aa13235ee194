package codec

import (
	"encoding/json"
	"fmt"
	"sort"

	"carta/api/internal/blocks"
	"carta/api/internal/document"
)

// legacyRecord is one node as the first editor release serialized it. The
// type was either the bare name or an object carrying resolvedName, and
// children were listed under "nodes".
type legacyRecord struct {
	Type   json.RawMessage   `json:"type"`
	Nodes  []document.NodeID `json:"nodes"`
	Parent *string           `json:"parent"`
	Props  blocks.Props      `json:"props"`
	Custom blocks.Props      `json:"custom"`
	// displayName was kept next to custom by some clients.
	DisplayName string `json:"displayName"`
}

func parseLegacy(raw []byte) (map[document.NodeID]record, error) {
	var flat map[document.NodeID]legacyRecord
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrCorruptDocument, err)
	}
	out := make(map[document.NodeID]record, len(flat))
	for id, rec := range flat {
		typ, err := legacyType(rec.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %v", ErrCorruptDocument, id, err)
		}
		custom := rec.Custom
		if custom == nil {
			custom = blocks.Props{}
		}
		if _, set := custom["displayName"]; !set && rec.DisplayName != "" && rec.DisplayName != string(typ) {
			custom["displayName"] = rec.DisplayName
		}
		out[id] = record{
			Type:     typ,
			Props:    rec.Props,
			Children: rec.Nodes,
			Custom:   custom,
		}
	}
	return out, nil
}

func legacyType(raw json.RawMessage) (blocks.Type, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("missing type")
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return blocks.Type(name), nil
	}
	var resolved struct {
		ResolvedName string `json:"resolvedName"`
	}
	if err := json.Unmarshal(raw, &resolved); err != nil {
		return "", fmt.Errorf("type: %v", err)
	}
	if resolved.ResolvedName == "" {
		return "", fmt.Errorf("type without resolvedName")
	}
	return blocks.Type(resolved.ResolvedName), nil
}

func sortIDs(ids []document.NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortTypes(types []blocks.Type) {
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
}
